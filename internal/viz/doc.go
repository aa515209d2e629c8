// Package viz renders training and evaluation results, both as image files
// and in the terminal.
//
//   - [PlotChannels], [PlotLoss]: PNG line plots through gonum/plot
//   - [ChannelPreview], [LossCurve]: asciigraph charts for stdout
//   - [RenderAttractor]: Braille projection of a 3D trajectory
//   - lipgloss styles shared by the CLI and the live training view
package viz
