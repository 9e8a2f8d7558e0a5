package providers

import (
	"os"
	"runtime"
)

// LibraryPathEnv overrides the platform default location of the onnxruntime library.
const LibraryPathEnv = "ORT_LIB_PATH"

// SharedLibPath returns the path to the onnxruntime shared library.
//
// Arguments:
//   - explicit: A configured path. It wins over the environment and platform default.
//
// Returns:
//   - string: The path to the shared library.
func SharedLibPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(LibraryPathEnv); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}
