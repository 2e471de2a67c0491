// Package grouping forms learning groups from a material's cohort.
//
// Engines in this package are pure functions over []Member:
//
//   - Validate checks that a cohort can be split into k groups
//   - Analyze inspects the level composition and recommends a Priority
//   - PartitionHomogeneous keeps motivation levels together
//   - Optimize searches heterogeneous groups with a genetic algorithm
//   - AnalyzeQuality scores any partition and renders a verdict
//
// Heterogeneous fitness is a weighted sum of three objectives in [0,1]:
// level diversity inside groups, size balance between groups and the
// distance of every group's level mix to the class mix.
package grouping
