// Package oai implements the protocol side of a resumable OAI-PMH harvester.
// The Open Archives Initiative Protocol for Metadata Harvesting (OAI-PMH) is a
// low-barrier mechanism for repository interoperability.
//
// Requests are plain values, one type per verb. URL turns a request into a
// query URL, Decode turns an XML envelope into a Response and Client executes
// requests over HTTP, with retries.
//
// The harvesting state machine lives in the harvest package, it comes with a
// command line tool, called `basic-oai-harvester`.
//
// Basic usage:
//
//	$ basic-oai-harvester http://oai.persee.fr/oai --set=persee:serie-geo --dir=results
package oai
