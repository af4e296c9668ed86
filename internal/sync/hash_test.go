package sync

import "testing"

func TestHashBuilder(t *testing.T) {
	tests := []struct {
		name  string
		a, b  uint64
		equal bool
	}{
		{
			"deterministic",
			NewHashBuilder().String("/XAMPP/Tree_Nominal").Int(3).Build(),
			NewHashBuilder().String("/XAMPP/Tree_Nominal").Int(3).Build(),
			true,
		},
		{
			"order matters",
			NewHashBuilder().String("N_Jets").String("Ht").Build(),
			NewHashBuilder().String("Ht").String("N_Jets").Build(),
			false,
		},
		{
			"separator",
			NewHashBuilder().String("ab").String("c").Build(),
			NewHashBuilder().String("a").String("bc").Build(),
			false,
		},
		{
			"strings are a set",
			NewHashBuilder().Strings([]string{"CommonTree_Tree", "SystGroup_Jets_Tree"}).Build(),
			NewHashBuilder().Strings([]string{"SystGroup_Jets_Tree", "CommonTree_Tree"}).Build(),
			true,
		},
		{
			"int width",
			NewHashBuilder().Int(1).Build(),
			NewHashBuilder().Uint64(1).Build(),
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if (tt.a == tt.b) != tt.equal {
				t.Errorf("hashes %x and %x: equal = %v, want %v", tt.a, tt.b, tt.a == tt.b, tt.equal)
			}
		})
	}
}

func TestStrings_DoesNotSortInput(t *testing.T) {
	in := []string{"b", "a"}
	NewHashBuilder().Strings(in)
	if in[0] != "b" {
		t.Errorf("input reordered: %v", in)
	}
}
