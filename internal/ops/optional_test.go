package ops

import (
	"encoding/json"
	"testing"

	"github.com/nelsonng/tensient/internal/model"
)

func TestOptional_TriState(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantSet  bool
		wantNull bool
		want     model.Priority
	}{
		{"absent", `{"id":"x"}`, false, false, ""},
		{"null", `{"id":"x","human_priority":null}`, true, true, ""},
		{"value", `{"id":"x","human_priority":"high"}`, true, false, model.PriorityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var in UpdateSignalInput
			if err := json.Unmarshal([]byte(tt.raw), &in); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			got := in.HumanPriority
			if got.Set != tt.wantSet || got.Null != tt.wantNull || got.Value != tt.want {
				t.Errorf("HumanPriority = %+v, want set=%v null=%v value=%q", got, tt.wantSet, tt.wantNull, tt.want)
			}
		})
	}
}
