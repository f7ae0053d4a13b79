package metadata

// XML shape of a CSDL document. Element and attribute names are matched by
// local name so that the edmx, edm and annotation namespaces of every
// protocol version decode into the same structs.

type xmlEdmx struct {
	Version      string          `xml:"Version,attr"`
	DataServices xmlDataServices `xml:"DataServices"`
}

type xmlDataServices struct {
	DataServiceVersion    string      `xml:"DataServiceVersion,attr"`
	MaxDataServiceVersion string      `xml:"MaxDataServiceVersion,attr"`
	Schemas               []xmlSchema `xml:"Schema"`
}

type xmlSchema struct {
	Namespace    string               `xml:"Namespace,attr"`
	Alias        string               `xml:"Alias,attr"`
	EntityTypes  []xmlEntityType      `xml:"EntityType"`
	ComplexTypes []xmlComplexType     `xml:"ComplexType"`
	EnumTypes    []xmlEnumType        `xml:"EnumType"`
	Associations []xmlAssociation     `xml:"Association"`
	Containers   []xmlEntityContainer `xml:"EntityContainer"`
	Annotations  []xmlAnnotations     `xml:"Annotations"`
}

type xmlEntityType struct {
	Name       string           `xml:"Name,attr"`
	BaseType   string           `xml:"BaseType,attr"`
	Abstract   string           `xml:"Abstract,attr"`
	Key        []xmlPropertyRef `xml:"Key>PropertyRef"`
	Properties []xmlProperty    `xml:"Property"`
	Navigation []xmlNavigation  `xml:"NavigationProperty"`
}

type xmlComplexType struct {
	Name       string        `xml:"Name,attr"`
	BaseType   string        `xml:"BaseType,attr"`
	Properties []xmlProperty `xml:"Property"`
}

type xmlPropertyRef struct {
	Name string `xml:"Name,attr"`
}

type xmlProperty struct {
	Name         string `xml:"Name,attr"`
	Type         string `xml:"Type,attr"`
	Nullable     string `xml:"Nullable,attr"`
	DefaultValue string `xml:"DefaultValue,attr"`

	// StoreGeneratedPattern is the v3 spelling of a computed column.
	StoreGeneratedPattern string `xml:"StoreGeneratedPattern,attr"`

	Annotations []xmlAnnotation `xml:"Annotation"`
}

type xmlNavigation struct {
	Name     string `xml:"Name,attr"`
	Type     string `xml:"Type,attr"`
	Nullable string `xml:"Nullable,attr"`

	Constraints []xmlNavConstraint `xml:"ReferentialConstraint"`

	// v3 navigation goes through an association.
	Relationship string `xml:"Relationship,attr"`
	ToRole       string `xml:"ToRole,attr"`
}

type xmlNavConstraint struct {
	Property           string `xml:"Property,attr"`
	ReferencedProperty string `xml:"ReferencedProperty,attr"`
}

type xmlEnumType struct {
	Name    string          `xml:"Name,attr"`
	IsFlags string          `xml:"IsFlags,attr"`
	Members []xmlEnumMember `xml:"Member"`
}

type xmlEnumMember struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:"Value,attr"`
}

type xmlAssociation struct {
	Name       string                    `xml:"Name,attr"`
	Ends       []xmlAssociationEnd       `xml:"End"`
	Constraint *xmlAssociationConstraint `xml:"ReferentialConstraint"`
}

type xmlAssociationConstraint struct {
	Principal xmlConstraintRole `xml:"Principal"`
	Dependent xmlConstraintRole `xml:"Dependent"`
}

type xmlConstraintRole struct {
	Role string           `xml:"Role,attr"`
	Refs []xmlPropertyRef `xml:"PropertyRef"`
}

type xmlAssociationEnd struct {
	Type         string `xml:"Type,attr"`
	Role         string `xml:"Role,attr"`
	Multiplicity string `xml:"Multiplicity,attr"`
}

type xmlEntityContainer struct {
	Name       string         `xml:"Name,attr"`
	EntitySets []xmlEntitySet `xml:"EntitySet"`
}

type xmlEntitySet struct {
	Name       string `xml:"Name,attr"`
	EntityType string `xml:"EntityType,attr"`
}

type xmlAnnotations struct {
	Target      string          `xml:"Target,attr"`
	Annotations []xmlAnnotation `xml:"Annotation"`
}

type xmlAnnotation struct {
	Term string `xml:"Term,attr"`
	Bool string `xml:"Bool,attr"`
}
