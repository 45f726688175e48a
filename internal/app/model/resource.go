package model

import "sort"

// ResourceType describes one kind of publishable entity. All resource types share
// the same record shape and publish rules; only names and extra fields differ.
type ResourceType struct {
	// Name is the URL segment and the collection key.
	Name string
	// Label is the singular, human readable name used in logs and messages.
	Label string
	// Collection is the file name used by the file store.
	Collection string
	// UploadDir is the sub directory (or key prefix) for uploaded images.
	UploadDir string
	// Fields lists the type specific string attributes accepted on input.
	Fields    []string
	Deletable bool
}

// HasField reports whether name is a type specific attribute of t.
func (t ResourceType) HasField(name string) bool {
	for _, f := range t.Fields {
		if f == name {
			return true
		}
	}
	return false
}

var resourceTypes = map[string]ResourceType{
	"announcements": {
		Name:       "announcements",
		Label:      "announcement",
		Collection: "businessNews.json",
		UploadDir:  "announcements",
		Fields:     []string{"context", "hyperlink"},
		Deletable:  true,
	},
	"banners": {
		Name:       "banners",
		Label:      "banner",
		Collection: "banners.json",
		UploadDir:  "banners",
		Fields:     []string{"hyperlink"},
		Deletable:  true,
	},
	"products": {
		Name:       "products",
		Label:      "product",
		Collection: "products.json",
		UploadDir:  "products",
		Fields:     []string{"description", "hyperlink"},
		Deletable:  true,
	},
	"reports": {
		Name:       "reports",
		Label:      "report",
		Collection: "reports.json",
		UploadDir:  "reports",
		Fields:     []string{"context", "hyperlink"},
		Deletable:  true,
	},
	"videos": {
		Name:       "videos",
		Label:      "video",
		Collection: "videos.json",
		UploadDir:  "videos",
		Fields:     []string{"videoLink"},
		Deletable:  true,
	},
	"student-reports": {
		Name:       "student-reports",
		Label:      "student report",
		Collection: "studentReports.json",
		UploadDir:  "student-reports",
		Fields:     []string{"context", "hyperlink"},
		Deletable:  true,
	},
}

// LookupResourceType returns the resource type registered under name.
func LookupResourceType(name string) (ResourceType, bool) {
	t, ok := resourceTypes[name]
	return t, ok
}

// ResourceTypes returns every registered resource type ordered by name.
func ResourceTypes() []ResourceType {
	out := make([]ResourceType, 0, len(resourceTypes))
	for _, t := range resourceTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
