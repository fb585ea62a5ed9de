// Command inkstone runs the character enrichment daemon and its management
// CLI: queueing characters, bulk imports, queue inspection, media cache
// maintenance, and configuration handling.
package main
