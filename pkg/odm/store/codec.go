package store

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// EncodeDocument serialises doc as relaxed MongoDB Extended JSON so identity
// values, dates and binary survive engines that only store text.
func EncodeDocument(doc Document) ([]byte, error) {
	data, err := bson.MarshalExtJSON(bson.M(doc), false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return data, nil
}

// DecodeDocument parses Extended JSON written by EncodeDocument.
func DecodeDocument(data []byte) (Document, error) {
	var m bson.M
	if err := bson.UnmarshalExtJSON(data, false, &m); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return Clone(Document(m)), nil
}
