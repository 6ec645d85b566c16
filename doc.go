// Package cowtree is a copy-on-write B-tree over fixed-size pages.
//
// Committed pages are immutable. A writer builds the next version of the
// tree on new pages through a BtreeMut and publishes it with Store.Commit;
// readers holding a Snapshot keep seeing the version they started with.
// Every page records the xxhash64 checksum of each child, so a committed
// tree can be verified from its header down.
//
// Keys and values are typed through the Key and Value encoding contracts.
// Built-in codecs cover integers, booleans, strings and byte strings; keys
// compare by their encoded bytes unless the codec says otherwise.
//
//	store, err := cowtree.OpenMemory()
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = cowtree.Update(store, cowtree.Uint64, cowtree.String, func(t *cowtree.BtreeMut[uint64, string]) error {
//	    old, err := t.Insert(1, "one")
//	    old.Close()
//	    return err
//	})
package cowtree
