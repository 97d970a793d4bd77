package conveyor_test

import (
	"errors"
	"testing"
	"time"

	"github.com/erfanmomeniii/conveyor"
)

func TestValidators(t *testing.T) {
	fifo := conveyor.Entry{Payload: []byte("order"), Key: "customer-1", DedupID: "order-1"}

	tests := []struct {
		name      string
		validator conveyor.Validator
		entry     conveyor.Entry
		wantErr   bool
	}{
		{"not empty ok", conveyor.NotEmpty(), fifo, false},
		{"not empty fails", conveyor.NotEmpty(), conveyor.Entry{}, true},
		{"key ok", conveyor.RequireKey(), fifo, false},
		{"key missing", conveyor.RequireKey(), conveyor.Entry{Payload: []byte("x")}, true},
		{"dedup ok", conveyor.RequireDedupID(), fifo, false},
		{"dedup missing", conveyor.RequireDedupID(), conveyor.Entry{Key: "k"}, true},
		{"key length ok", conveyor.MaxKeyLen(10), fifo, false},
		{"key too long", conveyor.MaxKeyLen(5), fifo, true},
		{"delay ok", conveyor.MaxDelay(15 * time.Minute), conveyor.Entry{Delay: time.Minute}, false},
		{"delay too long", conveyor.MaxDelay(15 * time.Minute), conveyor.Entry{Delay: time.Hour}, true},
		{"matches", conveyor.Matches(func(e conveyor.Entry) bool { return e.Payload[0] == 'o' }, "must start with o"), fifo, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.validator(tt.entry)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validator() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, conveyor.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	err := conveyor.Matches(func(conveyor.Entry) bool { return false }, "schema mismatch")(conveyor.Entry{})

	var ve *conveyor.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err %T is not *ValidationError", err)
	}
	if ve.Error() != "conveyor: validation failed: schema mismatch" {
		t.Errorf("Error() = %q", ve.Error())
	}
}
