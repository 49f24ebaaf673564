package sync

import "encoding/json"

// The wire shapes below mirror the PascalCase JSON the metadata OData
// endpoints return. They exist only to decode into internal/domain
// values; nothing outside this package sees them.

type dataEntityDTO struct {
	Name                  string `json:"Name"`
	EntitySetName         string `json:"EntitySetName"`
	Category              string `json:"Category"`
	DataServiceEnabled    bool   `json:"DataServiceEnabled"`
	DataManagementEnabled bool   `json:"DataManagementEnabled"`
	IsReadOnly            bool   `json:"IsReadOnly"`
	LabelID               string `json:"LabelId"`
}

type publicEntityListDTO struct {
	Name          string `json:"Name"`
	EntitySetName string `json:"EntitySetName"`
}

type publicEntityDTO struct {
	Name          string               `json:"Name"`
	EntitySetName string               `json:"EntitySetName"`
	LabelID       string               `json:"LabelId"`
	Properties    []propertyDTO        `json:"Properties"`
	Navigations   []navigationDTO      `json:"NavigationProperties"`
	Actions       []actionDTO          `json:"Actions"`
}

type propertyDTO struct {
	Name              string `json:"Name"`
	TypeName          string `json:"TypeName"`
	DataType          string `json:"DataType"`
	IsKey             bool   `json:"IsKey"`
	IsMandatory       bool   `json:"IsMandatory"`
	AllowEdit         bool   `json:"AllowEdit"`
	AllowEditOnCreate bool   `json:"AllowEditOnCreate"`
	IsDimension       bool   `json:"IsDimension"`
	PropertyOrder     int    `json:"PropertyOrder"`
	LabelID           string `json:"LabelId"`
}

type navigationDTO struct {
	Name          string           `json:"Name"`
	RelatedEntity string           `json:"RelatedEntity"`
	Cardinality   string           `json:"Cardinality"`
	Constraints   []constraintDTO  `json:"Constraints"`
}

type constraintDTO struct {
	Kind            string `json:"Kind"`
	Property        string `json:"Property"`
	RelatedProperty string `json:"RelatedProperty"`
	FixedValue      string `json:"FixedValue"`
}

type actionDTO struct {
	Name               string          `json:"Name"`
	BindingKind        string          `json:"BindingKind"`
	ReturnTypeName     string          `json:"ReturnTypeName"`
	ReturnIsCollection bool            `json:"ReturnIsCollection"`
	FieldLookup        string          `json:"FieldLookup"`
	Parameters         []parameterDTO  `json:"Parameters"`
	LabelID            string          `json:"LabelId"`
}

type parameterDTO struct {
	Name           string `json:"Name"`
	TypeName       string `json:"TypeName"`
	IsCollection   bool   `json:"IsCollection"`
	ParameterOrder int    `json:"ParameterOrder"`
}

type enumerationListDTO struct {
	Name    string `json:"Name"`
	LabelID string `json:"LabelId"`
}

type enumerationDTO struct {
	Name    string              `json:"Name"`
	LabelID string              `json:"LabelId"`
	Members []enumerationMember `json:"Members"`
}

type enumerationMember struct {
	Name                 string `json:"Name"`
	Value                int    `json:"Value"`
	ConfigurationEnabled bool   `json:"ConfigurationEnabled"`
	LabelID              string `json:"LabelId"`
}

// decodeCollection accepts both a bare JSON array and the `{"value":
// [...]}` envelope OData list endpoints commonly use.
func decodeCollection[T any](raw []byte) ([]T, error) {
	var envelope struct {
		Value []T `json:"value"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Value != nil {
		return envelope.Value, nil
	}
	var bare []T
	if err := json.Unmarshal(raw, &bare); err != nil {
		return nil, err
	}
	return bare, nil
}

func decodeSingle[T any](raw []byte) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}
