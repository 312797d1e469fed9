package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"encoding/json"
	"fmt"
	"unsafe"

	"github.com/embeddb/embeddb/pkg/storage"
)

var dbHandles = make(map[int]*storage.Database)
var nextHandle = 1

//export OpenDB
func OpenDB(pathCStr *C.char, dimension C.int) C.int {
	path := C.GoString(pathCStr)

	db, err := storage.Open(path, uint32(dimension), storage.ModeAppend)
	if err != nil {
		return -1
	}

	handle := nextHandle
	nextHandle++
	dbHandles[handle] = db

	return C.int(handle)
}

//export CloseDB
func CloseDB(handle C.int) C.int {
	db, ok := dbHandles[int(handle)]
	if !ok {
		return -1
	}

	if err := db.Close(); err != nil {
		return -1
	}

	delete(dbHandles, int(handle))
	return 0
}

//export Append
func Append(handle C.int, idPtr *C.char, vectorPtr *C.float, vectorLen C.int) C.int {
	db, ok := dbHandles[int(handle)]
	if !ok {
		return -1
	}

	id := C.GoBytes(unsafe.Pointer(idPtr), C.int(storage.IDLen))

	vector := (*[1 << 30]float32)(unsafe.Pointer(vectorPtr))[:vectorLen:vectorLen]
	vectorCopy := make([]float32, vectorLen)
	copy(vectorCopy, vector)

	if err := db.AppendVector(id, vectorCopy); err != nil {
		return -1
	}

	return 0
}

//export Flush
func Flush(handle C.int) C.int {
	db, ok := dbHandles[int(handle)]
	if !ok {
		return -1
	}

	if err := db.Flush(); err != nil {
		return -1
	}

	return 0
}

//export Search
func Search(handle C.int, vectorPtr *C.float, vectorLen C.int, topk C.int, threshold C.float, norm C.int,
	outIdsPtr **C.char, outScoresPtr **C.float, outCount *C.int) C.int {

	db, ok := dbHandles[int(handle)]
	if !ok {
		return -1
	}

	vector := (*[1 << 30]float32)(unsafe.Pointer(vectorPtr))[:vectorLen:vectorLen]
	vectorCopy := make([]float32, vectorLen)
	copy(vectorCopy, vector)

	results, err := db.SearchVector(vectorCopy, int(topk), float64(threshold), norm != 0)
	if err != nil {
		return -1
	}

	idsBuf := C.malloc(C.size_t(len(results)) * C.size_t(storage.IDLen))
	idsSlice := (*[1 << 30]byte)(idsBuf)[: len(results)*storage.IDLen : len(results)*storage.IDLen]
	scoresBuf := (*C.float)(C.malloc(C.size_t(len(results)) * C.size_t(unsafe.Sizeof(C.float(0)))))
	scoresSlice := (*[1 << 30]float32)(unsafe.Pointer(scoresBuf))[:len(results):len(results)]

	for i, r := range results {
		copy(idsSlice[i*storage.IDLen:(i+1)*storage.IDLen], r.ID)
		scoresSlice[i] = float32(r.Score)
	}

	*outIdsPtr = (*C.char)(idsBuf)
	*outScoresPtr = scoresBuf
	*outCount = C.int(len(results))

	return 0
}

//export GetStats
func GetStats(handle C.int) *C.char {
	db, ok := dbHandles[int(handle)]
	if !ok {
		return C.CString("")
	}

	jsonBytes, err := json.Marshal(db.Stats())
	if err != nil {
		return C.CString("")
	}

	return C.CString(string(jsonBytes))
}

//export FreeVector
func FreeVector(ptr *C.float) {
	C.free(unsafe.Pointer(ptr))
}

//export FreeBytes
func FreeBytes(ptr *C.char) {
	C.free(unsafe.Pointer(ptr))
}

//export FreeString
func FreeString(ptr *C.char) {
	C.free(unsafe.Pointer(ptr))
}

func main() {
	fmt.Println("embeddb cgo bridge loaded")
}
