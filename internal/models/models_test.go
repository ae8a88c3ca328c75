package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestUsageTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{name: "naive", in: `"2025-03-01T10:20:30.123456"`, want: time.Date(2025, 3, 1, 10, 20, 30, 123456000, time.UTC)},
		{name: "zoned", in: `"2025-03-01T10:20:30Z"`, want: time.Date(2025, 3, 1, 10, 20, 30, 0, time.UTC)},
		{name: "missing", in: `""`},
		{name: "garbage", in: `"yesterday"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var u Usage
			err := json.Unmarshal([]byte(`{"id": 1, "spool_id": 2, "amount_used": 3.5, "timestamp": `+tt.in+`}`), &u)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if !u.Timestamp.Equal(tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, u.Timestamp)
			}
			if u.SpoolID != 2 || u.AmountUsed != 3.5 {
				t.Errorf("Expected other fields decoded, got %+v", u)
			}
		})
	}
}
