// Package preflight provides readiness checks for the directories and
// remote services TruthLens depends on.
//
// `truthlens status` prints every check; `truthlens serve` runs them once at
// startup and logs failures as warnings, since each engine degrades on its
// own when a dependency is missing.
package preflight
