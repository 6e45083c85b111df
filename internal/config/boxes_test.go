package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/motorbox/internal/connector"
)

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

func TestLoadBoxes(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "boxes.yaml")

	testYAML := `boxes:
  - name: optics
    vendor: mcc2
    port: /dev/ttyUSB0
    serial:
      baud_rate: 57600
    timeout: 300ms
    input: input/optics.csv
  - name: stage
    vendor: mcs2
    address: 192.168.1.200:55551
  - name: bench
    vendor: emulator
    emulator:
      buses: 2
      axes: 3
      realtime: false
`
	if err := os.WriteFile(path, []byte(testYAML), 0o644); err != nil {
		t.Fatalf("Failed to write test YAML: %v", err)
	}

	bf, err := LoadBoxes(path)
	if err != nil {
		t.Fatalf("LoadBoxes failed: %v", err)
	}
	if len(bf.Boxes) != 3 {
		t.Fatalf("got %d boxes, want 3", len(bf.Boxes))
	}

	optics, ok := bf.Box("optics")
	if !ok {
		t.Fatal("box optics not found")
	}
	if got := optics.GetTimeout(); got != 300*time.Millisecond {
		t.Errorf("GetTimeout() = %v, want 300ms", got)
	}
	serial := optics.GetSerial()
	if serial.BaudRate != 57600 || serial.DataBits != 8 || serial.Parity != "N" {
		t.Errorf("GetSerial() = %+v, want 57600 8N1", serial)
	}
	if optics.Input == nil || *optics.Input != "input/optics.csv" {
		t.Errorf("Input = %v, want input/optics.csv", optics.Input)
	}

	stage, _ := bf.Box("stage")
	if got := stage.GetTimeout(); got != connector.DefaultTimeout {
		t.Errorf("default GetTimeout() = %v, want %v", got, connector.DefaultTimeout)
	}

	bench, _ := bf.Box("bench")
	buses, axes, realtime := bench.GetEmulator()
	if buses != 2 || axes != 3 || realtime {
		t.Errorf("GetEmulator() = %d, %d, %v, want 2, 3, false", buses, axes, realtime)
	}

	if _, ok := bf.Box("missing"); ok {
		t.Error("Box(missing) reported found")
	}
}

func TestLoadBoxes_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	write := func(name, content string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	if _, err := LoadBoxes(write("boxes.json", "{}")); err == nil {
		t.Error("expected error for .json extension")
	}
	if _, err := LoadBoxes(filepath.Join(tmpDir, "absent.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file error = %v, want os.ErrNotExist", err)
	}
	if _, err := LoadBoxes(write("unknown.yaml", "boxes:\n  - name: a\n    vendor: emulator\n    colour: red\n")); err == nil {
		t.Error("expected error for unknown field")
	}
	if _, err := LoadBoxes(write("empty.yaml", "boxes: []\n")); !errors.Is(err, ErrConfig) {
		t.Errorf("empty boxes error = %v, want ErrConfig", err)
	}
	dup := "boxes:\n  - name: a\n    vendor: emulator\n  - name: a\n    vendor: emulator\n"
	if _, err := LoadBoxes(write("dup.yaml", dup)); !errors.Is(err, ErrConfig) {
		t.Errorf("duplicate name error = %v, want ErrConfig", err)
	}
}

func TestBoxConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		box     BoxConfig
		wantErr bool
	}{
		{"serial mcc2", BoxConfig{Name: "a", Vendor: VendorMCC2, Port: ptrString("/dev/ttyUSB0")}, false},
		{"tcp mcs", BoxConfig{Name: "a", Vendor: VendorMCS, Address: ptrString("host:5000")}, false},
		{"emulator", BoxConfig{Name: "a", Vendor: VendorEmulator}, false},
		{"no name", BoxConfig{Vendor: VendorEmulator}, true},
		{"unknown vendor", BoxConfig{Name: "a", Vendor: "acme"}, true},
		{"mcc2 without transport", BoxConfig{Name: "a", Vendor: VendorMCC2}, true},
		{"mcc2 with both transports", BoxConfig{Name: "a", Vendor: VendorMCC2, Port: ptrString("p"), Address: ptrString("h:1")}, true},
		{"mcs2 over serial", BoxConfig{Name: "a", Vendor: VendorMCS2, Port: ptrString("p")}, true},
		{"emulator with port", BoxConfig{Name: "a", Vendor: VendorEmulator, Port: ptrString("p")}, true},
		{"bad timeout", BoxConfig{Name: "a", Vendor: VendorEmulator, Timeout: ptrString("soon")}, true},
		{"negative timeout", BoxConfig{Name: "a", Vendor: VendorEmulator, Timeout: ptrString("-1s")}, true},
		{"bad parity", BoxConfig{Name: "a", Vendor: VendorMCC2, Port: ptrString("p"), Serial: &connector.PortOptions{Parity: "X"}}, true},
		{"too many buses", BoxConfig{Name: "a", Vendor: VendorEmulator, Emulator: &EmulatorConfig{Buses: ptrInt(17)}}, true},
		{"too many axes", BoxConfig{Name: "a", Vendor: VendorEmulator, Emulator: &EmulatorConfig{Axes: ptrInt(10)}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.box.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteBoxes_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boxes.yaml")
	in := &BoxesFile{Boxes: []BoxConfig{
		{Name: "bench", Vendor: VendorEmulator, Emulator: &EmulatorConfig{Buses: ptrInt(3)}},
	}}
	if err := WriteBoxes(path, in); err != nil {
		t.Fatalf("WriteBoxes failed: %v", err)
	}
	out, err := LoadBoxes(path)
	if err != nil {
		t.Fatalf("LoadBoxes failed: %v", err)
	}
	if buses, _, _ := out.Boxes[0].GetEmulator(); buses != 3 {
		t.Errorf("buses = %d, want 3", buses)
	}
}
