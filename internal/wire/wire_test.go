// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package wire

import (
	"strings"
	"testing"
	"time"
)

func TestPayloadID(t *testing.T) {
	payload := EncodeRunStop(EncodeRunStopArgs{JobID: "j1"})
	id, err := PayloadID(payload)
	if err != nil {
		t.Fatalf("PayloadID: %v", err)
	}
	if id != RunStopID {
		t.Errorf("id = %q, want %q", id, RunStopID)
	}
	if _, err := PayloadID([]byte("tiny")); err == nil {
		t.Error("expected error for truncated payload")
	}
}

func TestRunStartRoundTrip(t *testing.T) {
	payload := EncodeRunStart(EncodeRunStartArgs{
		JobID:          "job-17",
		Filename:       "run17.nxs",
		NexusStructure: `{"children":[]}`,
		Broker:         "localhost:4222",
		ServiceID:      "writer-1",
		Metadata:       `{"proposal":"P-101"}`,
		StartTimeMS:    1500,
		StopTimeMS:     9000,
	})
	if !IsRunStart(payload) {
		t.Fatal("IsRunStart = false")
	}
	if IsRunStop(payload) {
		t.Fatal("run-start payload matched run-stop")
	}

	msg, err := DecodeRunStart(payload, time.UnixMilli(42))
	if err != nil {
		t.Fatalf("DecodeRunStart: %v", err)
	}
	if msg.JobID != "job-17" || msg.Filename != "run17.nxs" || msg.ServiceID != "writer-1" {
		t.Errorf("decoded = %+v", msg)
	}
	if msg.StartTime != time.UnixMilli(1500) {
		t.Errorf("start time = %v", msg.StartTime)
	}
	if msg.StopTime != time.UnixMilli(9000) {
		t.Errorf("stop time = %v", msg.StopTime)
	}
}

func TestRunStartDefaultsStartTime(t *testing.T) {
	payload := EncodeRunStart(EncodeRunStartArgs{
		JobID:          "j",
		Filename:       "f.nxs",
		NexusStructure: "{}",
		Broker:         "nats://b:4222",
	})
	def := time.UnixMilli(123456)
	msg, err := DecodeRunStart(payload, def)
	if err != nil {
		t.Fatalf("DecodeRunStart: %v", err)
	}
	if !msg.StartTime.Equal(def) {
		t.Errorf("start time = %v, want default %v", msg.StartTime, def)
	}
	if !msg.StopTime.IsZero() {
		t.Errorf("stop time = %v, want zero", msg.StopTime)
	}
}

func TestRunStartMissingRequiredFields(t *testing.T) {
	payload := EncodeRunStart(EncodeRunStartArgs{JobID: "only-job"})
	_, err := DecodeRunStart(payload, time.Now())
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"NeXus structure", "filename", "broker"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestRunStartRejectsGarbage(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("x"),
		[]byte("________"),
		[]byte("\xff\xff\xff\xffpl72\xff\xff\xff\xff"),
	}
	for _, payload := range cases {
		if IsRunStart(payload) {
			t.Errorf("IsRunStart accepted %q", payload)
		}
		if _, err := DecodeRunStart(payload, time.Now()); err == nil {
			t.Errorf("DecodeRunStart accepted %q", payload)
		}
	}
}

func TestRunStopRoundTrip(t *testing.T) {
	payload := EncodeRunStop(EncodeRunStopArgs{
		JobID:      "job-17",
		CommandID:  "cmd-1",
		ServiceID:  "writer-1",
		StopTimeMS: 7000,
	})
	msg, err := DecodeRunStop(payload)
	if err != nil {
		t.Fatalf("DecodeRunStop: %v", err)
	}
	if msg.JobID != "job-17" || msg.CommandID != "cmd-1" || msg.ServiceID != "writer-1" {
		t.Errorf("decoded = %+v", msg)
	}
	if msg.StopTime != time.UnixMilli(7000) {
		t.Errorf("stop time = %v", msg.StopTime)
	}
}

func TestRunStopRequiresJobID(t *testing.T) {
	payload := EncodeRunStop(EncodeRunStopArgs{CommandID: "c"})
	if _, err := DecodeRunStop(payload); err == nil {
		t.Fatal("expected error for missing job id")
	}
}

func TestLogDataScalarDouble(t *testing.T) {
	payload := EncodeLogDataDouble("motor_1", 100_000_000, 3.5)
	msg, err := DecodeLogData(payload)
	if err != nil {
		t.Fatalf("DecodeLogData: %v", err)
	}
	if msg.SourceName != "motor_1" {
		t.Errorf("source = %q", msg.SourceName)
	}
	if msg.TimestampNS != 100_000_000 {
		t.Errorf("timestamp = %d", msg.TimestampNS)
	}
	if msg.Value.Kind != ValueDouble || len(msg.Value.Reals) != 1 || msg.Value.Reals[0] != 3.5 {
		t.Errorf("value = %+v", msg.Value)
	}
	if got := msg.Time(); got != time.Unix(0, 100_000_000) {
		t.Errorf("Time() = %v", got)
	}
}

func TestLogDataValueKinds(t *testing.T) {
	cases := []struct {
		name string
		args EncodeLogDataArgs
		want func(t *testing.T, v LogValue)
	}{
		{
			name: "scalar long",
			args: EncodeLogDataArgs{SourceName: "s", Kind: ValueLong, Ints: []int64{-7}},
			want: func(t *testing.T, v LogValue) {
				if len(v.Ints) != 1 || v.Ints[0] != -7 {
					t.Errorf("ints = %v", v.Ints)
				}
			},
		},
		{
			name: "scalar ulong",
			args: EncodeLogDataArgs{SourceName: "s", Kind: ValueULong, Uints: []uint64{42}},
			want: func(t *testing.T, v LogValue) {
				if len(v.Uints) != 1 || v.Uints[0] != 42 {
					t.Errorf("uints = %v", v.Uints)
				}
			},
		},
		{
			name: "scalar float",
			args: EncodeLogDataArgs{SourceName: "s", Kind: ValueFloat, Reals: []float64{1.5}},
			want: func(t *testing.T, v LogValue) {
				if len(v.Reals) != 1 || v.Reals[0] != 1.5 {
					t.Errorf("reals = %v", v.Reals)
				}
			},
		},
		{
			name: "array double",
			args: EncodeLogDataArgs{SourceName: "s", Kind: ValueArrayDouble, Reals: []float64{1, 2, 3}},
			want: func(t *testing.T, v LogValue) {
				if len(v.Reals) != 3 || v.Reals[2] != 3 {
					t.Errorf("reals = %v", v.Reals)
				}
			},
		},
		{
			name: "array int",
			args: EncodeLogDataArgs{SourceName: "s", Kind: ValueArrayInt, Ints: []int64{-1, 0, 1}},
			want: func(t *testing.T, v LogValue) {
				if len(v.Ints) != 3 || v.Ints[0] != -1 {
					t.Errorf("ints = %v", v.Ints)
				}
			},
		},
		{
			name: "array ushort",
			args: EncodeLogDataArgs{SourceName: "s", Kind: ValueArrayUShort, Uints: []uint64{9, 10}},
			want: func(t *testing.T, v LogValue) {
				if len(v.Uints) != 2 || v.Uints[1] != 10 {
					t.Errorf("uints = %v", v.Uints)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := DecodeLogData(EncodeLogData(tc.args))
			if err != nil {
				t.Fatalf("DecodeLogData: %v", err)
			}
			if msg.Value.Kind != tc.args.Kind {
				t.Errorf("kind = %v, want %v", msg.Value.Kind, tc.args.Kind)
			}
			tc.want(t, msg.Value)
		})
	}
}

func TestLogValueConversions(t *testing.T) {
	v := LogValue{Kind: ValueArrayInt, Ints: []int64{1, 2}}
	if got := v.Float64s(); len(got) != 2 || got[1] != 2.0 {
		t.Errorf("Float64s = %v", got)
	}
	if got := v.Uint64s(); len(got) != 2 || got[0] != 1 {
		t.Errorf("Uint64s = %v", got)
	}
	r := LogValue{Kind: ValueDouble, Reals: []float64{2.9}}
	if got := r.Int64s(); len(got) != 1 || got[0] != 2 {
		t.Errorf("Int64s = %v", got)
	}
}

func TestEventDataRoundTrip(t *testing.T) {
	payload := EncodeEventData(EncodeEventDataArgs{
		SourceName:   "detector_1",
		MessageID:    9,
		PulseTimeNS:  2_000_000,
		TimeOfFlight: []uint32{10, 20, 30},
		DetectorID:   []uint32{1, 2, 3},
	})
	msg, err := DecodeEventData(payload)
	if err != nil {
		t.Fatalf("DecodeEventData: %v", err)
	}
	if msg.SourceName != "detector_1" || msg.MessageID != 9 {
		t.Errorf("decoded = %+v", msg)
	}
	if len(msg.TimeOfFlight) != 3 || msg.TimeOfFlight[2] != 30 {
		t.Errorf("tof = %v", msg.TimeOfFlight)
	}
	if len(msg.DetectorID) != 3 || msg.DetectorID[0] != 1 {
		t.Errorf("ids = %v", msg.DetectorID)
	}
}

func TestChopperTimestampsRoundTrip(t *testing.T) {
	payload := EncodeChopperTimestamps("chopper_1", []int64{100, 200}, 5)
	msg, err := DecodeChopperTimestamps(payload)
	if err != nil {
		t.Fatalf("DecodeChopperTimestamps: %v", err)
	}
	if msg.Name != "chopper_1" || msg.SequenceCounter != 5 {
		t.Errorf("decoded = %+v", msg)
	}
	if len(msg.TimestampsNS) != 2 || msg.TimestampsNS[1] != 200 {
		t.Errorf("timestamps = %v", msg.TimestampsNS)
	}
	if got := msg.Time(); got != time.Unix(0, 100) {
		t.Errorf("Time() = %v", got)
	}
}

func TestExtractDispatch(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
		wantKey Key
		wantTS  time.Time
	}{
		{
			name:    "f142",
			payload: EncodeLogDataDouble("motor", 1_000_000_000, 1.0),
			wantKey: Key{SourceName: "motor", SchemaID: LogDataID},
			wantTS:  time.Unix(1, 0),
		},
		{
			name: "ev42",
			payload: EncodeEventData(EncodeEventDataArgs{
				SourceName: "det", PulseTimeNS: 3_000_000_000,
				TimeOfFlight: []uint32{1}, DetectorID: []uint32{7},
			}),
			wantKey: Key{SourceName: "det", SchemaID: EventDataID},
			wantTS:  time.Unix(3, 0),
		},
		{
			name:    "tdct",
			payload: EncodeChopperTimestamps("chop", []int64{5_000_000_000}, 1),
			wantKey: Key{SourceName: "chop", SchemaID: ChopperID},
			wantTS:  time.Unix(5, 0),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, ts, err := Extract(tc.payload)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if key != tc.wantKey {
				t.Errorf("key = %v, want %v", key, tc.wantKey)
			}
			if !ts.Equal(tc.wantTS) {
				t.Errorf("ts = %v, want %v", ts, tc.wantTS)
			}
		})
	}

	if _, _, err := Extract(EncodeRunStop(EncodeRunStopArgs{JobID: "j"})); err == nil {
		t.Error("Extract accepted a control-plane schema")
	}
}

func TestResponseRoundTrip(t *testing.T) {
	payload, err := EncodeResponse(Response{
		Type:    ActionHasStopped,
		Result:  ResultSuccess,
		JobID:   "j1",
		Message: "done",
	})
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	r, err := DecodeResponse(payload)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if r.Type != ActionHasStopped || r.Result != ResultSuccess || r.JobID != "j1" {
		t.Errorf("decoded = %+v", r)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	s := NewStatus("svc", "j1", "a.nxs", "writing",
		time.UnixMilli(100), time.UnixMilli(900), 2*time.Second)
	payload, err := EncodeStatus(s)
	if err != nil {
		t.Fatalf("EncodeStatus: %v", err)
	}
	got, err := DecodeStatus(payload)
	if err != nil {
		t.Fatalf("DecodeStatus: %v", err)
	}
	if got.StartTime != 100 || got.StopTime != 900 || got.UpdateIntervalMS != 2000 {
		t.Errorf("decoded = %+v", got)
	}
}
