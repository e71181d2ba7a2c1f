package storage

import "fmt"

// rawDataSegment is the fixed path segment between site and year.
const rawDataSegment = "raw-data"

// CollectionPath addresses a destination collection inside the zone
// hierarchy. The string form is
// /<zone>/<site>/raw-data/<year>/<device>/<run-folder>.
type CollectionPath struct {
	Zone      string
	Site      string
	Year      string
	Device    string
	RunFolder string
}

// Compose builds a CollectionPath from its five identifiers. Every
// segment must be non-empty.
func Compose(zone, site, year, device, runFolder string) (CollectionPath, error) {
	segments := map[string]string{
		"zone":       zone,
		"site":       site,
		"year":       year,
		"device":     device,
		"run-folder": runFolder,
	}
	for name, value := range segments {
		if value == "" {
			return CollectionPath{}, fmt.Errorf("collection path segment %q is empty", name)
		}
	}
	return CollectionPath{Zone: zone, Site: site, Year: year, Device: device, RunFolder: runFolder}, nil
}

// String returns the absolute collection path.
func (p CollectionPath) String() string {
	return fmt.Sprintf("/%s/%s/%s/%s/%s/%s", p.Zone, p.Site, rawDataSegment, p.Year, p.Device, p.RunFolder)
}

// Prefix returns the object key prefix for the collection, without a
// leading or trailing slash.
func (p CollectionPath) Prefix() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s/%s", p.Zone, p.Site, rawDataSegment, p.Year, p.Device, p.RunFolder)
}

// Key returns the object key for a file at the given slash-separated
// path relative to the collection.
func (p CollectionPath) Key(rel string) string {
	return p.Prefix() + "/" + rel
}

// MarkerKey returns the key of the zero-byte marker object that stands
// in for the collection itself. Collection metadata is attached to it.
func (p CollectionPath) MarkerKey() string {
	return p.Prefix() + "/"
}
