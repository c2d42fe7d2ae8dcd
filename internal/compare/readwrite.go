//go:build !readonly

package compare

const readOnlyBuild = false
