// Package version detects the set of installed modules on a D365 F&O
// environment and reduces it to the content hash the rest of the core
// uses to identify a GlobalVersion.
package version

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mafzaal/d365fo-client-go/infrastructure/errors"
	"github.com/mafzaal/d365fo-client-go/infrastructure/logging"
	"github.com/mafzaal/d365fo-client-go/internal/collaborators"
	"github.com/mafzaal/d365fo-client-go/internal/domain"
)

const (
	cacheTTL = 5 * time.Minute

	getInstalledModulesAction   = "GetInstalledModules"
	getApplicationVersionAction = "GetApplicationVersion"
	getPlatformBuildAction      = "GetPlatformBuildVersion"
	systemNotificationsSet      = "SystemNotifications"
)

// ModuleInfo is one parsed "Name: X | Version: Y | Module: Z | Publisher:
// P | DisplayName: D" entry from GetInstalledModules.
type ModuleInfo struct {
	ModuleID    string
	Name        string
	Version     string
	Publisher   string
	DisplayName string
}

// Detected is the result of a version detection pass: the computed
// EnvironmentVersion fields plus the module list used to compute them.
type Detected struct {
	ModulesHash      string
	VersionHash      string
	Modules          []ModuleInfo
	ApplicationBuild string
	PlatformBuild    string
	DetectedAt       time.Time
}

// Detector runs DetectVersion against an ODataClient, caching the last
// result for cacheTTL and coalescing concurrent callers.
type Detector struct {
	clock collaborators.Clock
	log   *logging.Logger

	mu        sync.RWMutex
	cached    *Detected
	fetchedAt time.Time
	group     singleflight.Group
}

func NewDetector(clock collaborators.Clock, log *logging.Logger) *Detector {
	return &Detector{clock: clock, log: log}
}

// DetectVersion produces an EnvironmentVersion-shaped Detected value.
// When useCache is true and the last successful detection is younger
// than 5 minutes, it is returned without a remote call.
func (d *Detector) DetectVersion(ctx context.Context, client collaborators.ODataClient, useCache bool) (*Detected, error) {
	if useCache {
		d.mu.RLock()
		if d.cached != nil && time.Since(d.fetchedAt) < cacheTTL {
			cached := d.cached
			d.mu.RUnlock()
			return cached, nil
		}
		d.mu.RUnlock()
	}

	v, err, _ := d.group.Do("detect", func() (any, error) {
		if useCache {
			d.mu.RLock()
			if d.cached != nil && time.Since(d.fetchedAt) < cacheTTL {
				cached := d.cached
				d.mu.RUnlock()
				return cached, nil
			}
			d.mu.RUnlock()
		}

		detected, err := d.detect(ctx, client)
		if err != nil {
			return nil, err
		}

		d.mu.Lock()
		d.cached = detected
		d.fetchedAt = time.Now()
		d.mu.Unlock()

		return detected, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Detected), nil
}

func (d *Detector) detect(ctx context.Context, client collaborators.ODataClient) (*Detected, error) {
	raw, err := client.CallAction(ctx, systemNotificationsSet, getInstalledModulesAction, nil)
	if err != nil {
		return nil, errors.VersionDetection("GetInstalledModules call failed", err)
	}

	lines, err := parseStringArray(raw)
	if err != nil {
		return nil, errors.VersionDetection("GetInstalledModules returned an unparseable payload", err)
	}

	modules := make([]ModuleInfo, 0, len(lines))
	for _, line := range lines {
		mod, ok := parseModuleLine(line)
		if !ok {
			d.log.WithFields(map[string]interface{}{"line": line}).Warn("skipping unparseable installed-module entry")
			continue
		}
		modules = append(modules, mod)
	}
	if len(modules) == 0 {
		return nil, errors.VersionDetection("no installed modules could be parsed", nil)
	}

	modulesHash := HashModules(modules)

	detected := &Detected{
		ModulesHash: modulesHash,
		VersionHash: modulesHash[:16],
		Modules:     modules,
		DetectedAt:  time.Unix(d.clock.Now(), 0).UTC(),
	}

	if raw, err := client.CallAction(ctx, systemNotificationsSet, getApplicationVersionAction, nil); err != nil {
		d.log.WithError(err).Debug("GetApplicationVersion fallback call failed")
	} else if s, ok := parseSingleString(raw); ok {
		detected.ApplicationBuild = s
	}

	if raw, err := client.CallAction(ctx, systemNotificationsSet, getPlatformBuildAction, nil); err != nil {
		d.log.WithError(err).Debug("GetPlatformBuildVersion fallback call failed")
	} else if s, ok := parseSingleString(raw); ok {
		detected.PlatformBuild = s
	}

	return detected, nil
}

// HashModules computes sha256(join('|', sorted("module_id:version"))) hex
// encoded, matching across any two environments with bit-identical
// installed-module sets.
func HashModules(modules []ModuleInfo) string {
	pairs := make([]string, len(modules))
	for i, m := range modules {
		pairs[i] = m.ModuleID + ":" + m.Version
	}
	sort.Strings(pairs)

	h := sha256.Sum256([]byte(strings.Join(pairs, "|")))
	return hex.EncodeToString(h[:])
}

// ToEnvironmentVersion projects a Detected result onto the persisted
// EnvironmentVersion shape for a given environment/global-version pair.
func (d *Detected) ToEnvironmentVersion(environmentID, globalVersionID int64) domain.EnvironmentVersion {
	return domain.EnvironmentVersion{
		EnvironmentID:   environmentID,
		GlobalVersionID: globalVersionID,
		DetectedAt:      d.DetectedAt,
		SyncStatus:      domain.SyncStatusPending,
	}
}

func parseModuleLine(line string) (ModuleInfo, bool) {
	fields := map[string]string{}
	for _, part := range strings.Split(line, "|") {
		kv := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(kv) != 2 {
			continue
		}
		fields[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}

	name, hasName := fields["Name"]
	ver, hasVersion := fields["Version"]
	if !hasName || !hasVersion {
		return ModuleInfo{}, false
	}

	moduleID := fields["Module"]
	if moduleID == "" {
		moduleID = name
	}

	return ModuleInfo{
		ModuleID:    moduleID,
		Name:        name,
		Version:     ver,
		Publisher:   fields["Publisher"],
		DisplayName: fields["DisplayName"],
	}, true
}

// parseStringArray decodes an OData collection-of-string action result,
// accepting both the bare-array shape and the `{"value": [...]}`
// envelope some endpoints wrap collections in.
func parseStringArray(raw []byte) ([]string, error) {
	var envelope struct {
		Value []string `json:"value"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Value != nil {
		return envelope.Value, nil
	}

	var bare []string
	if err := json.Unmarshal(raw, &bare); err != nil {
		return nil, fmt.Errorf("decode string array: %w", err)
	}
	return bare, nil
}

// parseSingleString decodes an OData scalar action result, accepting
// both a bare JSON string and a `{"value": "..."}` envelope.
func parseSingleString(raw []byte) (string, bool) {
	var envelope struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Value != "" {
		return envelope.Value, true
	}

	var bare string
	if err := json.Unmarshal(raw, &bare); err != nil {
		return "", false
	}
	return bare, bare != ""
}
