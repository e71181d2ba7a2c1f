// Package illumina extracts metadata from Illumina sequencer run
// folders: the run folder naming convention, RunInfo.xml and
// RunParameters.xml contents, netcopy completion markers, and the
// marker files signalling that a run is done.
package illumina

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Metadata keys applied to destination collections.
const (
	KeyRunID      = "omics::illumina::run_id"
	KeyRunNumber  = "omics::illumina::run_number"
	KeyFlowcell   = "omics::illumina::flowcell"
	KeyInstrument = "omics::illumina::instrument"
	KeyRunDate    = "omics::illumina::run_date"

	KeyNetcopyDate     = "omics::illumina::netcopy_date"
	KeyNetcopySoftware = "omics::illumina::netcopy_software"
)

// Marker files written by the sequencer when a run is complete.
// NovaSeq writes CopyComplete.txt, earlier instruments RTAComplete.txt.
var doneMarkerFiles = []string{"RTAComplete.txt", "CopyComplete.txt"}

// RunFolderName is the parsed form of a run folder directory name,
// e.g. 200602_M06205_0009_000000000-CW9PR.
type RunFolderName struct {
	Date     string // YYMMDD
	Device   string
	Number   string
	Flowcell string
}

// ParseRunFolderName splits a run folder directory name into its four
// underscore-separated fields.
func ParseRunFolderName(name string) (RunFolderName, error) {
	parts := strings.SplitN(name, "_", 4)
	if len(parts) != 4 {
		return RunFolderName{}, fmt.Errorf("run folder name %q does not have 4 underscore-separated fields", name)
	}
	for i, p := range parts {
		if p == "" {
			return RunFolderName{}, fmt.Errorf("run folder name %q has an empty field at position %d", name, i)
		}
	}
	return RunFolderName{Date: parts[0], Device: parts[1], Number: parts[2], Flowcell: parts[3]}, nil
}

// Year returns the four-digit year encoded in the folder date.
func (n RunFolderName) Year() (string, error) {
	if len(n.Date) != 6 {
		return "", fmt.Errorf("run folder date %q is not YYMMDD", n.Date)
	}
	return "20" + n.Date[:2], nil
}

// RunInfo carries the run description from RunInfo.xml.
type RunInfo struct {
	ID         string
	Number     string
	Flowcell   string
	Instrument string
	Date       string
}

type runInfoXML struct {
	Run struct {
		ID         string `xml:"Id,attr"`
		Number     string `xml:"Number,attr"`
		Flowcell   string `xml:"Flowcell"`
		Instrument string `xml:"Instrument"`
		Date       string `xml:"Date"`
	} `xml:"Run"`
}

// ParseRunInfo parses a RunInfo.xml document.
func ParseRunInfo(r io.Reader) (*RunInfo, error) {
	var doc runInfoXML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse RunInfo.xml: %w", err)
	}
	if doc.Run.ID == "" {
		return nil, fmt.Errorf("parse RunInfo.xml: missing Run Id attribute")
	}
	return &RunInfo{
		ID:         doc.Run.ID,
		Number:     doc.Run.Number,
		Flowcell:   doc.Run.Flowcell,
		Instrument: doc.Run.Instrument,
		Date:       doc.Run.Date,
	}, nil
}

// Meta returns the collection metadata for the run info.
func (ri *RunInfo) Meta() map[string]string {
	m := map[string]string{
		KeyRunID: ri.ID,
	}
	if ri.Number != "" {
		m[KeyRunNumber] = ri.Number
	}
	if ri.Flowcell != "" {
		m[KeyFlowcell] = ri.Flowcell
	}
	if ri.Instrument != "" {
		m[KeyInstrument] = ri.Instrument
	}
	if ri.Date != "" {
		m[KeyRunDate] = ri.Date
	}
	return m
}

// ParseRunParameters flattens a RunParameters.xml (or runParameters.xml)
// document into a map of leaf element names to their text content.
// Repeated element names keep the first value seen.
func ParseRunParameters(r io.Reader) (map[string]string, error) {
	dec := xml.NewDecoder(r)
	values := make(map[string]string)

	var stack []string
	var text strings.Builder
	hasChildren := make(map[int]bool)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse run parameters: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) > 0 {
				hasChildren[len(stack)-1] = true
			}
			stack = append(stack, t.Name.Local)
			text.Reset()
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			depth := len(stack) - 1
			if depth < 0 {
				return nil, fmt.Errorf("parse run parameters: unbalanced document")
			}
			if !hasChildren[depth] {
				value := strings.TrimSpace(text.String())
				name := stack[depth]
				if value != "" {
					if _, ok := values[name]; !ok {
						values[name] = value
					}
				}
			}
			delete(hasChildren, depth)
			stack = stack[:depth]
			text.Reset()
		}
	}

	if len(values) == 0 {
		return nil, fmt.Errorf("parse run parameters: no scalar values found")
	}
	return values, nil
}

// NetcopyInfo carries the contents of a Netcopy_complete*.txt marker.
type NetcopyInfo struct {
	Date     string
	Time     string
	Software string
}

// ParseNetcopyComplete parses the single comma-separated line of a
// netcopy completion marker, e.g.
// "4/15/2020,04:09:52.092,Illumina RTA 1.18.54".
func ParseNetcopyComplete(r io.Reader) (*NetcopyInfo, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read netcopy marker: %w", err)
	}
	line := strings.TrimSpace(strings.SplitN(string(raw), "\n", 2)[0])
	parts := strings.SplitN(line, ",", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("netcopy marker line %q does not have 3 comma-separated fields", line)
	}
	return &NetcopyInfo{
		Date:     strings.TrimSpace(parts[0]),
		Time:     strings.TrimSpace(parts[1]),
		Software: strings.TrimSpace(parts[2]),
	}, nil
}

// Meta returns the object metadata for the netcopy marker.
func (ni *NetcopyInfo) Meta() map[string]string {
	return map[string]string{
		KeyNetcopyDate:     ni.Date + " " + ni.Time,
		KeyNetcopySoftware: ni.Software,
	}
}

// RunFolderDone reports whether the run folder carries a done marker
// file written by the sequencer.
func RunFolderDone(dir string) bool {
	for _, marker := range doneMarkerFiles {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// IsRunInfo reports whether the path names a RunInfo.xml file.
func IsRunInfo(path string) bool {
	return strings.EqualFold(filepath.Base(path), "RunInfo.xml")
}

// IsRunParameters reports whether the path names a RunParameters.xml
// file (the leading-lowercase spelling is used by MiSeq).
func IsRunParameters(path string) bool {
	return strings.EqualFold(filepath.Base(path), "RunParameters.xml")
}

// IsNetcopyComplete reports whether the path names a netcopy completion
// marker.
func IsNetcopyComplete(path string) bool {
	return strings.Contains(strings.ToLower(filepath.Base(path)), "netcopy_complete")
}
