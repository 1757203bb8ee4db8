// Package storage defines the Store contract shared by storage components.
//
// A storage component registers itself under StoreInterface; consumers
// declare a reference to it:
//
//	references:
//	  - name: store
//	    interface: storage.Store
//	    target: 'region == "eu"'
//
// and find the bound Store through their component context:
//
//	store := ctx.LocateService("store").(storage.Store)
//	err := store.Put(ctx, "orders/42", data)
//
// The inventory subpackage provides the in-memory implementation.
package storage
