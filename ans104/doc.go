/*
Package ans104 reads and writes bundles in the ANS-104 binary format.

A bundle packs a sequence of data items into a single Arweave transaction.
The layout is

	count     32 bytes, little endian
	entries   count * (32 byte little endian size, 32 byte item id)
	items     the data items, concatenated in entry order

Each data item is

	signature type   2 bytes, little endian
	signature        length given by the signature type
	owner            length given by the signature type
	target           1 presence byte, then 32 bytes if present
	anchor           1 presence byte, then 32 bytes if present
	tag count        8 bytes, little endian
	tag bytes        8 bytes, little endian
	tags             Avro encoded array of {name, value} pairs
	data             the remainder of the item

A Reader walks a bundle buffer one item at a time. It never copies the
buffer: the Signature and Owner of an Item are sub-slices of it, and the
payload is described by DataOffset and DataLength. Item level problems do
not stop the Reader. They are carried in Item.Err and turned into a
Malformed Result by Validate, so one bad item never hides its siblings.

Only the structure of an item is checked. Signatures are not verified.
*/
package ans104
