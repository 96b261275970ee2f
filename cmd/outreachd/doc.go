// Command outreachd runs the outreach HTTP API together with the crawl
// worker pool. Configuration comes from the YAML file named by -config and
// OUTREACH_ environment overrides.
package main
