// Package testutil holds helpers shared by scanvault package tests:
// deterministic operation IDs and an event recorder.
package testutil
