package wire

import (
	"bytes"
	"errors"
	"testing"

	"google.golang.org/grpc/encoding"
)

func TestFrameRoundTrip(t *testing.T) {
	var hdr Header
	hdr.TargetID = 7
	hdr.SessionID = 42
	hdr.Flags = FlagBuddyMirrorSecond
	hdr.SetSequence(5, 4)

	f := NewFrame(&OpResponse{Result: -3, EntryID: "abc", Size: 99, Payload: []byte("x")}, hdr)
	raw := f.Encode()
	if len(raw) != int(f.Header.Length) {
		t.Fatalf("encoded length %d, header says %d", len(raw), f.Header.Length)
	}

	got, err := DecodeFrame(raw, 0)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if got.Header.Type != MsgOpResponse || got.Header.TargetID != 7 || got.Header.SessionID != 42 {
		t.Errorf("unexpected header: %+v", got.Header)
	}
	if !got.Header.IsBuddyMirrorSecond() || !got.Header.HasFlag(FlagHasSequenceNumber) {
		t.Errorf("flags lost: %#x", got.Header.Flags)
	}
	if got.Header.Sequence != 5 || got.Header.SequenceDone != 4 {
		t.Errorf("sequence pair lost: %d/%d", got.Header.Sequence, got.Header.SequenceDone)
	}

	var resp OpResponse
	if err := got.Decode(&resp); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if resp.Result != -3 || resp.EntryID != "abc" || resp.Size != 99 || string(resp.Payload) != "x" {
		t.Errorf("unexpected body: %+v", resp)
	}
}

func TestUnmarshalHeader_RejectsOversizedFromHeaderAlone(t *testing.T) {
	f := NewFrame(&OpResponse{Payload: make([]byte, 1024)}, Header{})
	raw := f.Encode()

	if _, err := UnmarshalHeader(raw[:HeaderSize], 512); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge from the header, got %v", err)
	}
	// the length check runs before the body is looked at
	if _, err := DecodeFrame(raw[:HeaderSize+10], 512); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge on a truncated frame, got %v", err)
	}
}

func TestUnmarshalHeader_BadPrefix(t *testing.T) {
	raw := NewFrame(&GenericResponse{Code: GenericTryAgain}, Header{}).Encode()
	raw[12] ^= 0xff

	if _, err := DecodeFrame(raw, 0); !errors.Is(err, ErrBadPrefix) {
		t.Fatalf("expected ErrBadPrefix, got %v", err)
	}
}

func TestDecodeFrame_LengthMismatch(t *testing.T) {
	raw := NewFrame(&GenericResponse{Code: GenericTryAgain}, Header{}).Encode()
	if _, err := DecodeFrame(append(raw, 0), 0); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestDecode_WrongType(t *testing.T) {
	f := NewFrame(&GenericResponse{Code: GenericIndirectCommErr}, Header{})
	var resp OpResponse
	if err := f.Decode(&resp); !errors.Is(err, ErrUnexpectedType) {
		t.Fatalf("expected ErrUnexpectedType, got %v", err)
	}
}

func TestResyncEntry_WithChunks(t *testing.T) {
	in := &ResyncEntry{
		Entry: EntryRecord{ID: "f1", ParentID: "root", Name: "a.txt", Size: 8192, Mode: 0o644, ModTime: 123},
		Chunks: []Chunk{
			{Offset: 0, Data: []byte{1, 2, 3}},
			{Offset: 4096, Data: []byte{4}},
		},
	}
	f := NewFrame(in, Header{})

	var out ResyncEntry
	if err := f.Decode(&out); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if out.Entry != in.Entry {
		t.Errorf("entry mismatch: %+v", out.Entry)
	}
	if len(out.Chunks) != 2 || out.Chunks[1].Offset != 4096 || !bytes.Equal(out.Chunks[0].Data, []byte{1, 2, 3}) {
		t.Errorf("chunks mismatch: %+v", out.Chunks)
	}
}

func TestResyncDirListing_KeepsEmptyNames(t *testing.T) {
	f := NewFrame(&ResyncDirListing{DirID: "d", Names: []string{"a", "", "b"}}, Header{})
	var out ResyncDirListing
	if err := f.Decode(&out); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(out.Names) != 3 || out.Names[2] != "b" {
		t.Errorf("unexpected names: %q", out.Names)
	}
}

func TestDecodeFields_Truncated(t *testing.T) {
	body := (&OpResponse{EntryID: "abcdef"}).MarshalBody()
	var resp OpResponse
	if err := resp.UnmarshalBody(body[:len(body)-2]); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestReplyHeader(t *testing.T) {
	var req Header
	req.TargetID = 3
	req.SessionID = 9
	req.Flags = FlagBuddyMirrorSecond | FlagIsSelectiveAck
	req.SetSequence(11, 10)

	reply := ReplyHeader(req)
	if reply.IsBuddyMirrorSecond() {
		t.Error("reply must not carry the secondary flag")
	}
	if reply.Sequence != 11 || reply.SessionID != 9 || reply.TargetID != 3 {
		t.Errorf("unexpected reply header: %+v", reply)
	}
}

func TestFrameCodec(t *testing.T) {
	codec := encoding.GetCodec(CodecName)
	if codec == nil {
		t.Fatal("frame codec not registered")
	}

	in := NewGenericFrame(Header{SessionID: 1}, GenericNewSeqNoBase, "base", 77)
	raw, err := codec.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out Frame
	if err := codec.Unmarshal(raw, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	var gr GenericResponse
	if err := out.Decode(&gr); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if gr.Code != GenericNewSeqNoBase || gr.Value != 77 || gr.Detail != "base" {
		t.Errorf("unexpected generic response: %+v", gr)
	}

	if _, err := codec.Marshal("not a frame"); err == nil {
		t.Error("expected error marshaling a non-frame")
	}
}
