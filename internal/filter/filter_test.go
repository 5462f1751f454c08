package filter_test

import (
	"encoding/json"
	"strconv"
	"sync"
	"testing"

	"github.com/HanshengGUO/okx-websocket-repeater/internal/filter"
	"github.com/rs/zerolog"
)

func collect() (*[][]byte, filter.Sink) {
	var mu sync.Mutex
	out := [][]byte{}
	return &out, func(msg []byte) {
		mu.Lock()
		defer mu.Unlock()
		cp := make([]byte, len(msg))
		copy(cp, msg)
		out = append(out, cp)
	}
}

func TestAdmitsStrictlyIncreasingSeq(t *testing.T) {
	out, sink := collect()
	f := filter.New(sink, zerolog.Nop(), nil)

	f.Process([]byte(`{"arg":{},"data":[{"seqId":1001,"px":"A"}]}`))

	if len(*out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(*out))
	}
	if f.Watermark() != 1001 {
		t.Errorf("Watermark() = %d, want 1001", f.Watermark())
	}
}

func TestDropsDuplicate(t *testing.T) {
	out, sink := collect()
	f := filter.New(sink, zerolog.Nop(), nil)

	msg := []byte(`{"arg":{},"data":[{"seqId":1001,"px":"A"}]}`)
	f.Process(msg)
	f.Process(msg)

	if len(*out) != 1 {
		t.Fatalf("len(out) = %d, want 1 (duplicate should be dropped)", len(*out))
	}
	if f.Watermark() != 1001 {
		t.Errorf("Watermark() = %d, want 1001", f.Watermark())
	}
}

func TestDropsOutOfOrder(t *testing.T) {
	out, sink := collect()
	f := filter.New(sink, zerolog.Nop(), nil)

	f.Process([]byte(`{"arg":{},"data":[{"seqId":1001}]}`))
	f.Process([]byte(`{"arg":{},"data":[{"seqId":1000}]}`))

	if len(*out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(*out))
	}
	if f.Watermark() != 1001 {
		t.Errorf("Watermark() = %d, want 1001 unchanged", f.Watermark())
	}
}

func TestIgnoresEventFrame(t *testing.T) {
	out, sink := collect()
	f := filter.New(sink, zerolog.Nop(), nil)

	f.Process([]byte(`{"event":"subscribe","arg":{}}`))

	if len(*out) != 0 {
		t.Fatalf("len(out) = %d, want 0", len(*out))
	}
	if f.Watermark() != 0 {
		t.Errorf("Watermark() = %d, want 0 unchanged", f.Watermark())
	}
}

func TestDropsEmptyData(t *testing.T) {
	out, sink := collect()
	f := filter.New(sink, zerolog.Nop(), nil)

	f.Process([]byte(`{"arg":{},"data":[]}`))

	if len(*out) != 0 {
		t.Fatalf("len(out) = %d, want 0", len(*out))
	}
}

func TestDropsMalformedJSON(t *testing.T) {
	out, sink := collect()
	f := filter.New(sink, zerolog.Nop(), nil)

	f.Process([]byte(`{not json`))

	if len(*out) != 0 {
		t.Fatalf("len(out) = %d, want 0", len(*out))
	}
}

func TestNegativeSeqIDIsAReachableWatermark(t *testing.T) {
	out, sink := collect()
	f := filter.New(sink, zerolog.Nop(), nil)

	f.Process([]byte(`{"arg":{},"data":[{"seqId":-5}]}`))

	if len(*out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(*out))
	}
	if f.Watermark() != -5 {
		t.Errorf("Watermark() = %d, want -5", f.Watermark())
	}

	f.Process([]byte(`{"arg":{},"data":[{"seqId":-4}]}`))
	if f.Watermark() != -4 {
		t.Errorf("Watermark() = %d, want -4", f.Watermark())
	}
}

func TestStrictMonotonicityAcrossSequence(t *testing.T) {
	out, sink := collect()
	f := filter.New(sink, zerolog.Nop(), nil)

	seqs := []int64{10, 11, 9, 11, 12, 12, 13}
	for _, s := range seqs {
		f.Process([]byte(`{"arg":{},"data":[{"seqId":` + strconv.FormatInt(s, 10) + `}]}`))
	}

	var prev int64 = -1 << 62
	for _, msg := range *out {
		var fr struct {
			Data []struct {
				SeqID int64 `json:"seqId"`
			} `json:"data"`
		}
		_ = json.Unmarshal(msg, &fr)
		if fr.Data[0].SeqID <= prev {
			t.Fatalf("monotonicity violated: %d after %d", fr.Data[0].SeqID, prev)
		}
		prev = fr.Data[0].SeqID
	}
	if len(*out) != 4 {
		t.Fatalf("len(out) = %d, want 4 admitted (10,11,12,13)", len(*out))
	}
}
