// Package matrix resolves the console bot's Matrix account into the session
// handed to the moderation interface.
package matrix
