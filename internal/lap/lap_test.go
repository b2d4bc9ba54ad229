package lap

import "testing"

func TestDetectSession(t *testing.T) {
	tests := []struct {
		name string
		want SessionType
	}{
		{"monza_r_02.csv", SessionRace},
		{"spa_R_lap4.csv", SessionRace},
		{"hungary_q_1.csv", SessionQualifying},
		{"hungary_q2_1.csv", SessionQualifying},
		{"silverstone_p3_warmup.csv", SessionPractice},
		{"p_monaco.csv", SessionPractice},
		{"monza_lap_02.csv", SessionUnknown},
		{"race_notes.csv", SessionUnknown}, // "race" is not a bare r token
		{"/some/dir/monza_r_02.csv", SessionRace},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectSession(tt.name); got != tt.want {
				t.Errorf("DetectSession(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestIsTimeTrial(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"hungary_DRY_TT_79.111_mclaren.csv", true},
		{"hungary_tt_79_mclaren.csv", true},
		{"monza_r_tt.csv", true},
		{"tt_spa.csv", true},
		{"monza_r_02.csv", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTimeTrial(tt.name); got != tt.want {
				t.Errorf("IsTimeTrial(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}
