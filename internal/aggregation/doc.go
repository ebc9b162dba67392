// Package aggregation implements delayed aggregation of overlapping windowed
// predictions and binarization of continuous activity scores. It trades
// latency for smoother output by buffering successive overlapping windows and
// merging them once enough look-ahead has accumulated.
package aggregation
