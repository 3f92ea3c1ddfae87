package services

import "testing"

func TestParseStatLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantOK  bool
		wantCPU string
		wantMem string
	}{
		{
			name:    "plain json",
			line:    `{"CPUPerc":"0.15%","MemUsage":"12.3MiB / 1.9GiB","NetIO":"1.2kB / 0B","BlockIO":"0B / 0B"}`,
			wantOK:  true,
			wantCPU: "0.15%",
			wantMem: "12.3MiB / 1.9GiB",
		},
		{
			name:    "control sequence prefix",
			line:    "\x1b[2J\x1b[H" + `{"CPUPerc":"2.00%","MemUsage":"50MiB / 1GiB","NetIO":"0B / 0B","BlockIO":"0B / 0B"}`,
			wantOK:  true,
			wantCPU: "2.00%",
			wantMem: "50MiB / 1GiB",
		},
		{
			name:   "no json payload",
			line:   "CONTAINER ID   NAME   CPU %",
			wantOK: false,
		},
		{
			name:   "empty line",
			line:   "",
			wantOK: false,
		},
		{
			name:   "malformed json",
			line:   `{"CPUPerc": broken`,
			wantOK: false,
		},
		{
			name:   "json without stat fields",
			line:   `{"Something":"else"}`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sample, ok := ParseStatLine(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("ParseStatLine() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if sample.CPU != tt.wantCPU {
				t.Errorf("CPU = %q, want %q", sample.CPU, tt.wantCPU)
			}
			if sample.Memory != tt.wantMem {
				t.Errorf("Memory = %q, want %q", sample.Memory, tt.wantMem)
			}
			if sample.Timestamp.IsZero() {
				t.Error("Timestamp is zero, want set")
			}
		})
	}
}
