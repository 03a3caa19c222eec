// Package api exposes group administration, item access links, bulk
// listing, and access checks over HTTP.
//
// Authentication happens upstream; the gateway passes the acting user
// in the X-Groupgate-User header. Mutating routes require the manage
// capability, read routes answer for any actor including anonymous.
package api
