package wire

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	u := &RelayUpdate{
		Kind:        KindFileData,
		Fingerprint: []byte{0x01, 0x02, 0x03},
		Role:        RoleSender,
		SessionID:   "abc123",
		FileID:      7,
		FileName:    "report.pdf",
		FileSize:    4096,
		Offset:      1024,
		Data:        []byte("ciphertext-chunk"),
		Final:       false,
	}

	decoded, err := Decode(u.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if decoded.Kind != u.Kind {
		t.Errorf("Kind: got %v want %v", decoded.Kind, u.Kind)
	}
	if string(decoded.Fingerprint) != string(u.Fingerprint) {
		t.Errorf("Fingerprint mismatch")
	}
	if decoded.Role != u.Role {
		t.Errorf("Role: got %v want %v", decoded.Role, u.Role)
	}
	if decoded.SessionID != u.SessionID {
		t.Errorf("SessionID: got %q want %q", decoded.SessionID, u.SessionID)
	}
	if decoded.FileID != u.FileID {
		t.Errorf("FileID: got %d want %d", decoded.FileID, u.FileID)
	}
	if decoded.FileName != u.FileName {
		t.Errorf("FileName: got %q want %q", decoded.FileName, u.FileName)
	}
	if decoded.Offset != u.Offset {
		t.Errorf("Offset: got %d want %d", decoded.Offset, u.Offset)
	}
	if string(decoded.Data) != string(u.Data) {
		t.Errorf("Data mismatch")
	}
}

func TestEncodeDecodeEmptyMessage(t *testing.T) {
	u := &RelayUpdate{}
	decoded, err := Decode(u.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Kind != KindUnknown {
		t.Errorf("expected KindUnknown, got %v", decoded.Kind)
	}
}

func TestDecodeTruncatedFrame(t *testing.T) {
	u := &RelayUpdate{Kind: KindJoin, SessionID: "xyz"}
	full := u.Encode()

	if _, err := Decode(full[:len(full)-1]); err == nil {
		t.Fatal("expected error decoding truncated frame")
	}
}

func TestKindStringUnknown(t *testing.T) {
	if got := Kind(999).String(); got != "unknown(999)" {
		t.Fatalf("unexpected String() for unknown kind: %q", got)
	}
}

func TestBoolFieldsRoundTrip(t *testing.T) {
	u := &RelayUpdate{Kind: KindNewFileRequest, IsDir: true, Final: true}
	decoded, err := Decode(u.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !decoded.IsDir || !decoded.Final {
		t.Fatalf("expected bool fields to round-trip true, got IsDir=%v Final=%v", decoded.IsDir, decoded.Final)
	}
}

func TestFileMetadataFieldsRoundTrip(t *testing.T) {
	u := &RelayUpdate{
		Kind:          KindNewFileRequest,
		FileID:        3,
		Mode:          0o644,
		RelativePath:  "project/nested/b.txt",
		NumFolders:    2,
		MaxNameLength: 26,
		Accept:        true,
		PercentBasis:  4250,
	}
	decoded, err := Decode(u.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Mode != u.Mode {
		t.Errorf("Mode: got %d want %d", decoded.Mode, u.Mode)
	}
	if decoded.RelativePath != u.RelativePath {
		t.Errorf("RelativePath: got %q want %q", decoded.RelativePath, u.RelativePath)
	}
	if decoded.NumFolders != u.NumFolders {
		t.Errorf("NumFolders: got %d want %d", decoded.NumFolders, u.NumFolders)
	}
	if decoded.MaxNameLength != u.MaxNameLength {
		t.Errorf("MaxNameLength: got %d want %d", decoded.MaxNameLength, u.MaxNameLength)
	}
	if !decoded.Accept {
		t.Errorf("expected Accept to round-trip true")
	}
	if decoded.PercentBasis != u.PercentBasis {
		t.Errorf("PercentBasis: got %d want %d", decoded.PercentBasis, u.PercentBasis)
	}
}

func TestNewKindStrings(t *testing.T) {
	cases := map[Kind]string{
		KindShareConfirm:      "share_confirm",
		KindNewFileConfirm:    "new_file_confirm",
		KindBreakPointConfirm: "break_point_confirm",
		KindFileDuplication:   "file_duplication",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}
