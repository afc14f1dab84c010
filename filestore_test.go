// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"bytes"
	"testing"
)

func TestFileStore_ReadFileRecord(t *testing.T) {
	s := NewFileStore()
	s.CreateFile(1, "test", 256)

	req := []byte{0x15, 0x09, 0x06, 0x00, 0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x11, 0x22, 0x33}
	if resp := s.HandleWriteFileRecord(req); !bytes.Equal(resp, req) {
		t.Fatalf("Write setup failed: %x", resp)
	}

	resp := s.HandleReadFileRecord([]byte{0x14, 0x07, 0x06, 0x00, 0x01, 0x00, 0x00, 0x00, 0x02})

	// ByteCount counts the SubRespLen field itself: 1 + (1 + 4) = 6.
	expected := []byte{0x14, 0x06, 0x05, 0x06, 0x00, 0x11, 0x22, 0x33}
	if !bytes.Equal(resp, expected) {
		t.Errorf("Expected %x, got %x", expected, resp)
	}
}

func TestFileStore_ReadFileRecord_Layout(t *testing.T) {
	s := NewFileStore()
	s.CreateFile(4, "test", 1000)

	for _, recordLength := range []int{1, 2, 16, 126} {
		req := []byte{0x14, 0x07, 0x06, 0x00, 0x04, 0x00, 0x00, 0x00, byte(recordLength)}
		resp := s.HandleReadFileRecord(req)

		wantSubResp := 1 + 2*recordLength
		wantByteCount := 1 + wantSubResp
		if len(resp) != 4+2*recordLength {
			t.Fatalf("recordLength %d: response length %d", recordLength, len(resp))
		}
		if int(resp[1]) != wantByteCount {
			t.Errorf("recordLength %d: ByteCount %d, want %d", recordLength, resp[1], wantByteCount)
		}
		if int(resp[2]) != wantSubResp {
			t.Errorf("recordLength %d: SubRespLen %d, want %d", recordLength, resp[2], wantSubResp)
		}
		if resp[3] != 0x06 {
			t.Errorf("recordLength %d: RefType %d, want 6", recordLength, resp[3])
		}
	}
}

func TestFileStore_ReadFileRecord_MissingRecordsReadZero(t *testing.T) {
	s := NewFileStore()
	s.CreateFile(9, "sparse", 100)

	resp := s.HandleReadFileRecord([]byte{0x14, 0x07, 0x06, 0x00, 0x09, 0x00, 0x05, 0x00, 0x03})

	expected := []byte{0x14, 0x08, 0x07, 0x06, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(resp, expected) {
		t.Errorf("Expected %x, got %x", expected, resp)
	}
}

func TestFileStore_ReadFileRecord_Validation(t *testing.T) {
	s := NewFileStore()
	s.CreateFile(1, "small", 16)

	tests := []struct {
		name string
		pdu  []byte
		want []byte
	}{
		{
			"short pdu",
			[]byte{0x14, 0x07, 0x06, 0x00, 0x01},
			[]byte{0x94, 0x03},
		},
		{
			"bad reference type",
			[]byte{0x14, 0x07, 0x05, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01},
			[]byte{0x94, 0x03},
		},
		{
			"record length over 126",
			[]byte{0x14, 0x07, 0x06, 0x00, 0x01, 0x00, 0x00, 0x00, 0x7F},
			[]byte{0x94, 0x03},
		},
		{
			"record number over 9999",
			[]byte{0x14, 0x07, 0x06, 0x00, 0x01, 0x27, 0x10, 0x00, 0x01},
			[]byte{0x94, 0x02},
		},
		{
			"file not found",
			[]byte{0x14, 0x07, 0x06, 0x00, 0x63, 0x00, 0x00, 0x00, 0x01},
			[]byte{0x94, 0x02},
		},
		{
			"read past capacity",
			[]byte{0x14, 0x07, 0x06, 0x00, 0x01, 0x00, 0x0F, 0x00, 0x02},
			[]byte{0x94, 0x02},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.HandleReadFileRecord(tt.pdu)
			if !bytes.Equal(resp, tt.want) {
				t.Errorf("Expected %x, got %x", tt.want, resp)
			}
		})
	}
}

func TestFileStore_WriteFileRecord_EchoesRequest(t *testing.T) {
	s := NewFileStore()
	s.CreateFile(2, "test", 128)

	req := []byte{0x15, 0x0B, 0x06, 0x00, 0x02, 0x00, 0x01, 0x00, 0x02, 0xAA, 0xBB, 0xCC, 0xDD}
	resp := s.HandleWriteFileRecord(req)

	if !bytes.Equal(resp, req) {
		t.Errorf("FC21 must echo the request: got %x", resp)
	}

	data, ok := s.lookup(2).ReadRecords(1, 2)
	if !ok {
		t.Fatal("ReadRecords failed")
	}
	if !bytes.Equal(data, []byte{0xAA, 0xBB, 0xCC, 0xDD}) {
		t.Errorf("Records: expected aabbccdd, got %x", data)
	}
}

func TestFileStore_WriteFileRecord_AutoCreates(t *testing.T) {
	s := NewFileStore()

	req := []byte{0x15, 0x09, 0x06, 0x00, 0x07, 0x00, 0x00, 0x00, 0x01, 0x12, 0x34}
	resp := s.HandleWriteFileRecord(req)
	if !bytes.Equal(resp, req) {
		t.Fatalf("Write failed: %x", resp)
	}

	file := s.lookup(7)
	if file == nil {
		t.Fatal("File 7 should have been auto-created")
	}
	if file.TotalRecords() != MaxFileRecords {
		t.Errorf("Auto-created capacity: expected %d, got %d", MaxFileRecords, file.TotalRecords())
	}
}

func TestFileStore_WriteFileRecord_Validation(t *testing.T) {
	s := NewFileStore()
	s.CreateFile(3, "tiny", 4)

	tests := []struct {
		name string
		pdu  []byte
		want []byte
	}{
		{
			"short pdu",
			[]byte{0x15, 0x09, 0x06, 0x00, 0x03, 0x00, 0x00},
			[]byte{0x95, 0x03},
		},
		{
			"bad reference type",
			[]byte{0x15, 0x09, 0x07, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, 0x12, 0x34},
			[]byte{0x95, 0x03},
		},
		{
			"data size mismatch",
			[]byte{0x15, 0x09, 0x06, 0x00, 0x03, 0x00, 0x00, 0x00, 0x02, 0x12, 0x34},
			[]byte{0x95, 0x03},
		},
		{
			"record number over 9999",
			[]byte{0x15, 0x09, 0x06, 0x00, 0x03, 0x27, 0x10, 0x00, 0x01, 0x12, 0x34},
			[]byte{0x95, 0x02},
		},
		{
			"write past capacity",
			[]byte{0x15, 0x09, 0x06, 0x00, 0x03, 0x00, 0x03, 0x00, 0x02, 0x12, 0x34, 0x56, 0x78},
			[]byte{0x95, 0x04},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.HandleWriteFileRecord(tt.pdu)
			if !bytes.Equal(resp, tt.want) {
				t.Errorf("Expected %x, got %x", tt.want, resp)
			}
		})
	}
}

func TestFileStore_CreateFile_Duplicate(t *testing.T) {
	s := NewFileStore()

	if !s.CreateFile(1, "first", 10) {
		t.Fatal("First CreateFile should succeed")
	}
	if s.CreateFile(1, "second", 10) {
		t.Error("Duplicate CreateFile should fail")
	}
}

func TestFileStore_FilesAndSnapshot(t *testing.T) {
	s := NewFileStore()
	s.CreateFile(2, "status log", 128)
	s.CreateFile(1, "temperature log", 256)

	req := []byte{0x15, 0x09, 0x06, 0x00, 0x01, 0x00, 0x02, 0x00, 0x01, 0x12, 0x34}
	s.HandleWriteFileRecord(req)

	files := s.Files()
	if len(files) != 2 {
		t.Fatalf("Expected 2 files, got %d", len(files))
	}
	if files[0].Number != 1 || files[1].Number != 2 {
		t.Errorf("Files should be ordered by number: %+v", files)
	}
	if files[0].Written != 1 {
		t.Errorf("File 1 written: expected 1, got %d", files[0].Written)
	}
	if files[0].Description != "temperature log" {
		t.Errorf("File 1 description: got %q", files[0].Description)
	}

	snap := s.Snapshot(1, 100)
	if len(snap) != 1 || snap[2] != 0x1234 {
		t.Errorf("Snapshot: expected {2: 0x1234}, got %v", snap)
	}
	if s.Snapshot(99, 10) != nil {
		t.Error("Snapshot of a missing file should be nil")
	}
}

func TestFileAddressStore_ReadWrite(t *testing.T) {
	s := NewFileAddressStore()

	// Write 2 words at address 0x03E8.
	req := []byte{0xCC, 0x03, 0xE8, 0x00, 0x02, 0x04, 0x11, 0x22, 0x33, 0x44}
	resp := s.HandleWriteFile(req)

	expected := []byte{0xCC, 0x03, 0xE8, 0x00, 0x02}
	if !bytes.Equal(resp, expected) {
		t.Fatalf("Write response: expected %x, got %x", expected, resp)
	}

	resp = s.HandleReadFile([]byte{0xCB, 0x03, 0xE8, 0x00, 0x03})

	// Third word was never written and reads as zeros.
	expected = []byte{0xCB, 0x06, 0x11, 0x22, 0x33, 0x44, 0x00, 0x00}
	if !bytes.Equal(resp, expected) {
		t.Errorf("Read response: expected %x, got %x", expected, resp)
	}
}

func TestFileAddressStore_Validation(t *testing.T) {
	s := NewFileAddressStore()

	tests := []struct {
		name string
		pdu  []byte
		want []byte
	}{
		{"read short", []byte{0xCB, 0x00, 0x00}, []byte{0xCB | 0x80, 0x03}},
		{"read qty 0", []byte{0xCB, 0x00, 0x00, 0x00, 0x00}, []byte{0xCB | 0x80, 0x03}},
		{"read qty 126", []byte{0xCB, 0x00, 0x00, 0x00, 0x7E}, []byte{0xCB | 0x80, 0x03}},
		{"write short", []byte{0xCC, 0x00, 0x00, 0x00}, []byte{0xCC | 0x80, 0x03}},
		{"write qty 0", []byte{0xCC, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, []byte{0xCC | 0x80, 0x03}},
		{"write byte count mismatch", []byte{0xCC, 0x00, 0x00, 0x00, 0x01, 0x03, 0x11, 0x22, 0x33}, []byte{0xCC | 0x80, 0x03}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp []byte
			if tt.pdu[0] == 0xCB {
				resp = s.HandleReadFile(tt.pdu)
			} else {
				resp = s.HandleWriteFile(tt.pdu)
			}
			if !bytes.Equal(resp, tt.want) {
				t.Errorf("Expected %x, got %x", tt.want, resp)
			}
		})
	}
}

func TestFileAddressStore_InitializeRegion(t *testing.T) {
	s := NewFileAddressStore()
	s.InitializeRegion(1000, 200)

	if got := s.Read(1000); !bytes.Equal(got, []byte{0, 0}) {
		t.Errorf("Read(1000): expected zeros, got %x", got)
	}
}
