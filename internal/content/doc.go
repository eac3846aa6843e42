// Package content defines article and utterance types and converts raw
// article records into the flat, ordered utterance lists consumed by the
// queue builder.
package content
