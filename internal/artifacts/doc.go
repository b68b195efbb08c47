// Package artifacts manages the directory of generated heatmap videos: unique
// output names, public URLs, and age-based pruning guarded by a file lock so
// concurrent servers sharing the directory do not race.
package artifacts
