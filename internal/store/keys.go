package store

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Key prefixes for persisted state.
const (
	CollectionMetaPrefix    = "$CM_"
	CollectionNextSeqPrefix = "$CS_"
	CollectionOverridePrefix = "$CO_"
	AnalyticsRulePrefix     = "$AR_"
)

// SerializeUint32 encodes v big-endian so byte order matches numeric order.
func SerializeUint32(v uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return string(b[:])
}

// DeserializeUint32 decodes a big-endian uint32 produced by SerializeUint32.
func DeserializeUint32(s string) uint32 {
	if len(s) != 4 {
		return 0
	}
	return binary.BigEndian.Uint32([]byte(s))
}

// SerializeUint64 encodes v big-endian.
func SerializeUint64(v uint64) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return string(b[:])
}

// CollectionMetaKey is the key under which a collection's meta JSON lives.
func CollectionMetaKey(name string) string {
	return CollectionMetaPrefix + name
}

// CollectionNextSeqKey is the key of a collection's next-seq counter.
func CollectionNextSeqKey(name string) string {
	return CollectionNextSeqPrefix + name
}

// DocSeqKey maps (collection id, seq id) to the stored document JSON.
func DocSeqKey(collectionID uint32, seqID uint32) string {
	return fmt.Sprintf("%d_S_%s", collectionID, SerializeUint32(seqID))
}

// DocSeqPrefix is the scan prefix covering all stored documents of a collection.
func DocSeqPrefix(collectionID uint32) string {
	return fmt.Sprintf("%d_S_", collectionID)
}

// DocIDKey maps (collection id, doc id) to the seq id as a decimal string.
func DocIDKey(collectionID uint32, docID string) string {
	return fmt.Sprintf("%d_D_%s", collectionID, docID)
}

// OverrideKey is the key of a single override of a collection.
func OverrideKey(collection, overrideID string) string {
	return CollectionOverridePrefix + collection + "_" + overrideID
}

// OverridePrefix is the scan prefix for all overrides of a collection.
func OverridePrefix(collection string) string {
	return CollectionOverridePrefix + collection + "_"
}

// AnalyticsRuleKey is the key of an analytics rule.
func AnalyticsRuleKey(name string) string {
	return AnalyticsRulePrefix + name
}

// AnalyticsEventKey builds the event log key userid%event%serialized(ts).
// The % separators are structural, so % is stripped from user ids first.
func AnalyticsEventKey(userID, eventName string, timestampUs uint64) string {
	uid := strings.ReplaceAll(userID, "%", "")
	return uid + "%" + eventName + "%" + SerializeUint64(timestampUs)
}
