// Package hook defines the quality-gate hook domain model: hook
// definitions, execution strategies, results, live progress tracking,
// and the output-parser registry used to classify tool output.
package hook
