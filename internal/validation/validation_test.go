package validation

import (
	"testing"
)

func TestValidateVariableName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "N_Jets", false},
		{"numbers", "Jet1_pt", false},
		{"underscore only", "_", false},
		{"empty", "", true},
		{"hyphen", "met-phi", true},
		{"dot", "met.phi", true},
		{"slash", "a/b", true},
		{"control char", "a\x00b", true},
		{"space", "a b", true},
		{"non ascii", "pTé", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVariableName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVariableName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSystematicName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"variation", "EG_RESOLUTION_ALL__1up", false},
		{"with dot", "JET_JER.v2__1down", false},
		{"with hyphen", "MUON-ID__1up", false},
		{"hidden", ".hidden", true},
		{"dotdot", "..", true},
		{"slash", "JET/JER", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSystematicName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSystematicName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		input    string
		wantDir  string
		wantName string
		wantErr  bool
	}{
		{"/XAMPP/Tree_Nominal", "XAMPP", "Tree_Nominal", false},
		{"/XAMPP/Histos/Cutflow", "XAMPP/Histos", "Cutflow", false},
		{"/MetaDataTree", "", "MetaDataTree", false},
		{"XAMPP/Tree", "", "", true},
		{"", "", "", true},
		{"/XAMPP//Tree", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			dir, name, err := SplitPath(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SplitPath(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if dir != tt.wantDir || name != tt.wantName {
				t.Errorf("SplitPath(%q) = (%q, %q), want (%q, %q)", tt.input, dir, name, tt.wantDir, tt.wantName)
			}
		})
	}
}

func TestJoinPath(t *testing.T) {
	if got := JoinPath("XAMPP", "Tree_Nominal"); got != "/XAMPP/Tree_Nominal" {
		t.Errorf("JoinPath = %q", got)
	}
	if got := JoinPath("/XAMPP/", "/CommonTree_Tree"); got != "/XAMPP/CommonTree_Tree" {
		t.Errorf("JoinPath = %q", got)
	}
}
