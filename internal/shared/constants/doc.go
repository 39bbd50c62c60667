// Package constants centralizes tunable limits shared across crxlens.
package constants
