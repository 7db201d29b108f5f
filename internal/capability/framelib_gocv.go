//go:build gocv

package capability

const frameLibCompiled = true
