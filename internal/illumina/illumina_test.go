package illumina

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const runInfoXMLDoc = `<?xml version="1.0"?>
<RunInfo xmlns:xsd="http://www.w3.org/2001/XMLSchema" Version="2">
  <Run Id="200602_M06205_0009_000000000-CW9PR" Number="9">
    <Flowcell>000000000-CW9PR</Flowcell>
    <Instrument>M06205</Instrument>
    <Date>200602</Date>
    <Reads>
      <Read Number="1" NumCycles="301" IsIndexedRead="N" />
      <Read Number="2" NumCycles="8" IsIndexedRead="Y" />
    </Reads>
  </Run>
</RunInfo>`

func TestParseRunFolderName(t *testing.T) {
	name, err := ParseRunFolderName("200602_M06205_0009_000000000-CW9PR")
	if err != nil {
		t.Fatalf("ParseRunFolderName() error = %v", err)
	}
	if name.Date != "200602" || name.Device != "M06205" || name.Number != "0009" || name.Flowcell != "000000000-CW9PR" {
		t.Fatalf("unexpected parse result: %+v", name)
	}

	year, err := name.Year()
	if err != nil {
		t.Fatalf("Year() error = %v", err)
	}
	if year != "2020" {
		t.Fatalf("Year() = %s, want 2020", year)
	}
}

func TestParseRunFolderName_Invalid(t *testing.T) {
	for _, bad := range []string{"", "no-underscores", "a_b_c", "200602__0009_FC"} {
		if _, err := ParseRunFolderName(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseRunInfo(t *testing.T) {
	ri, err := ParseRunInfo(strings.NewReader(runInfoXMLDoc))
	if err != nil {
		t.Fatalf("ParseRunInfo() error = %v", err)
	}

	if ri.ID != "200602_M06205_0009_000000000-CW9PR" {
		t.Fatalf("ID = %s", ri.ID)
	}
	if ri.Number != "9" || ri.Flowcell != "000000000-CW9PR" || ri.Instrument != "M06205" || ri.Date != "200602" {
		t.Fatalf("unexpected run info: %+v", ri)
	}

	meta := ri.Meta()
	if meta[KeyRunID] != ri.ID || meta[KeyInstrument] != "M06205" || meta[KeyFlowcell] != "000000000-CW9PR" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}

func TestParseRunInfo_MissingRunID(t *testing.T) {
	if _, err := ParseRunInfo(strings.NewReader(`<RunInfo><Run Number="9"/></RunInfo>`)); err == nil {
		t.Fatal("expected error for missing Run Id")
	}
}

func TestParseRunParameters(t *testing.T) {
	doc := `<?xml version="1.0"?>
<RunParameters>
  <RunID>200602_M06205_0009_000000000-CW9PR</RunID>
  <ExperimentName>Omics test run</ExperimentName>
  <RTAVersion>1.18.54</RTAVersion>
  <Setup>
    <ApplicationVersion>4.0.0.1769</ApplicationVersion>
  </Setup>
</RunParameters>`

	values, err := ParseRunParameters(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ParseRunParameters() error = %v", err)
	}

	want := map[string]string{
		"RunID":              "200602_M06205_0009_000000000-CW9PR",
		"ExperimentName":     "Omics test run",
		"RTAVersion":         "1.18.54",
		"ApplicationVersion": "4.0.0.1769",
	}
	for key, value := range want {
		if values[key] != value {
			t.Fatalf("values[%s] = %q, want %q", key, values[key], value)
		}
	}
	if _, ok := values["Setup"]; ok {
		t.Fatal("non-leaf element Setup should not be flattened")
	}
}

func TestParseNetcopyComplete(t *testing.T) {
	ni, err := ParseNetcopyComplete(strings.NewReader("4/15/2020,04:09:52.092,Illumina RTA 1.18.54\n"))
	if err != nil {
		t.Fatalf("ParseNetcopyComplete() error = %v", err)
	}
	if ni.Date != "4/15/2020" || ni.Time != "04:09:52.092" || ni.Software != "Illumina RTA 1.18.54" {
		t.Fatalf("unexpected netcopy info: %+v", ni)
	}

	if _, err := ParseNetcopyComplete(strings.NewReader("just-one-field")); err == nil {
		t.Fatal("expected error for malformed marker")
	}
}

func TestRunFolderDone(t *testing.T) {
	dir := t.TempDir()
	if RunFolderDone(dir) {
		t.Fatal("empty folder should not be done")
	}

	if err := os.WriteFile(filepath.Join(dir, "RTAComplete.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if !RunFolderDone(dir) {
		t.Fatal("folder with RTAComplete.txt should be done")
	}

	novaseq := t.TempDir()
	if err := os.WriteFile(filepath.Join(novaseq, "CopyComplete.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if !RunFolderDone(novaseq) {
		t.Fatal("folder with CopyComplete.txt should be done")
	}
}

func TestSpecialFileDetection(t *testing.T) {
	if !IsRunInfo("/data/run/RunInfo.xml") || !IsRunInfo("runinfo.xml") {
		t.Fatal("RunInfo.xml detection failed")
	}
	if !IsRunParameters("runParameters.xml") || !IsRunParameters("RunParameters.xml") {
		t.Fatal("RunParameters.xml detection failed")
	}
	if !IsNetcopyComplete("Basecalling_Netcopy_complete_Read_2.txt") {
		t.Fatal("netcopy marker detection failed")
	}
	if IsRunInfo("SampleSheet.csv") || IsNetcopyComplete("RunInfo.xml") {
		t.Fatal("false positive in special file detection")
	}
}
