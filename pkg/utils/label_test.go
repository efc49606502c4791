package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeLabel(t *testing.T) {
	tests := []struct {
		name     string
		existing Label
		incoming Label
		want     Label
	}{
		{
			name:     "empty existing takes incoming",
			existing: Label{},
			incoming: Label{Value: "cold_start", Source: "recall"},
			want:     Label{Value: "cold_start", Source: "recall"},
		},
		{
			name:     "empty incoming keeps existing",
			existing: Label{Value: "cold_start", Source: "recall"},
			incoming: Label{},
			want:     Label{Value: "cold_start", Source: "recall"},
		},
		{
			name:     "values and sources accumulate",
			existing: Label{Value: "Action", Source: "recall"},
			incoming: Label{Value: "Comedy", Source: "rerank"},
			want:     Label{Value: "Action|Comedy", Source: "recall,rerank"},
		},
		{
			name:     "missing source on one side",
			existing: Label{Value: "a"},
			incoming: Label{Value: "b", Source: "rank"},
			want:     Label{Value: "a|b", Source: "rank"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeLabel(tt.existing, tt.incoming))
		})
	}
}
