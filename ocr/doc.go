// Package ocr defines the recognition contract between the conversion
// pipeline and pluggable OCR providers. Providers receive encoded page
// images and return positioned text regions; the pipeline never depends on
// a concrete engine.
package ocr
