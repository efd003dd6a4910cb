//go:build !js_eval

package syncstate

// NewJSEvaluator returns nil unless the binary is built with -tags js_eval.
func NewJSEvaluator(...JSEvaluatorOption) Evaluator {
	return nil
}

func jsEvaluatorAvailable() bool {
	return false
}
