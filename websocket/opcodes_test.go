package websocket

import "testing"

func TestIsControlFrame(t *testing.T) {
	for _, op := range []byte{opcodeClose, opcodePing, opcodePong} {
		if !isControlFrame(op) {
			t.Errorf("isControlFrame(0x%x) = false, want true", op)
		}
	}
	for _, op := range []byte{opcodeContinuation, opcodeText, opcodeBinary} {
		if isControlFrame(op) {
			t.Errorf("isControlFrame(0x%x) = true, want false", op)
		}
	}
}

func TestIsDataFrame(t *testing.T) {
	for _, op := range []byte{opcodeContinuation, opcodeText, opcodeBinary} {
		if !isDataFrame(op) {
			t.Errorf("isDataFrame(0x%x) = false, want true", op)
		}
	}
	if isDataFrame(opcodeClose) {
		t.Errorf("isDataFrame(opcodeClose) = true, want false")
	}
}

func TestIsValidOpcode(t *testing.T) {
	valid := []byte{opcodeContinuation, opcodeText, opcodeBinary, opcodeClose, opcodePing, opcodePong}
	for _, op := range valid {
		if !isValidOpcode(op) {
			t.Errorf("isValidOpcode(0x%x) = false, want true", op)
		}
	}
	for _, op := range []byte{0x3, 0x7, 0xB, 0xF} {
		if isValidOpcode(op) {
			t.Errorf("isValidOpcode(0x%x) = true, want false", op)
		}
	}
}
