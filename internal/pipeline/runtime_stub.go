//go:build !govips || !cgo

package pipeline

func Startup(RuntimeConfig) error {
	return nil
}

func Shutdown() {}

func Backend() string {
	return "stdlib"
}

func newTransformer() (Transformer, error) {
	return stdlibTransformer{}, nil
}
