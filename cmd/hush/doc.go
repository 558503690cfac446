// Command hush removes background noise from the audio of media files.
//
// Each file named on the command line runs through the enhancement pipeline
// in turn. Supporting commands report tool availability, show the job
// history, and manage the staging directory where jobs keep their
// intermediate files.
package main
