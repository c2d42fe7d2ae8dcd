//go:build readonly

package compare

const readOnlyBuild = true
