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

// Router fans a request PDU out to the function dispatcher, the file
// stores, or an IllegalFunction exception based on the function code.
type Router struct {
	functions *FunctionHandler
	files     *FileStore
	fileArea  *FileAddressStore
}

// NewRouter creates a router over the given handlers.
func NewRouter(functions *FunctionHandler, files *FileStore, fileArea *FileAddressStore) *Router {
	return &Router{
		functions: functions,
		files:     files,
		fileArea:  fileArea,
	}
}

// Route dispatches pdu and returns the response PDU. A nil return
// means the transport should drop the response (no bytes on the wire).
func (r *Router) Route(pdu []byte) []byte {
	if len(pdu) == 0 {
		return nil
	}

	switch fc := FunctionCode(pdu[0]); fc {
	case FuncReadCoils, FuncReadDiscreteInputs,
		FuncReadHoldingRegisters, FuncReadInputRegisters,
		FuncWriteSingleCoil, FuncWriteSingleRegister,
		FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		return r.functions.Handle(pdu)
	case FuncReadFileRecord:
		return r.files.HandleReadFileRecord(pdu)
	case FuncWriteFileRecord:
		return r.files.HandleWriteFileRecord(pdu)
	case FuncReadFileArea:
		return r.fileArea.HandleReadFile(pdu)
	case FuncWriteFileArea:
		return r.fileArea.HandleWriteFile(pdu)
	default:
		return exceptionPDU(fc, ExceptionIllegalFunction)
	}
}
