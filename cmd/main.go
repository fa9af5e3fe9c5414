// Package main provides the landrecord command line tool.
//
// Usage:
//
//	landrecord run fairfax
//	landrecord run fairfax loudoun --format json
//	landrecord probe pwcba --login
//
// Portal credentials are read from the environment, optionally through a .env file.
package main

func main() {
	Execute()
}
