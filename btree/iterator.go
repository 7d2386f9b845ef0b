package btree

import (
	"bytes"

	"github.com/relational/dbcore/common"
)

// Iterator implements range scanning over B-tree keys, in either
// direction. Ascending scans walk leaf-to-leaf via RightPtr; descending
// scans walk via LeftPtr (spec §4.1 "range_scan ... either direction").
type Iterator struct {
	btree       *BTree
	currentPage *Page
	cellIndex   uint16
	boundKey    []byte // exclusive boundary: endKey ascending, lowKey descending
	descending  bool
	err         error
	started     bool
	firstCall   bool // Track if this is the first Next() call
}

// NewIterator creates a new ascending iterator for the given key range.
func (b *BTree) NewIterator(startKey, endKey []byte) *Iterator {
	return &Iterator{
		btree:    b,
		boundKey: endKey,
		started:  false,
	}
}

// Scan returns an ascending iterator over [startKey, endKey).
func (b *BTree) Scan(startKey, endKey []byte) (common.Iterator, error) {
	it := b.NewIterator(startKey, endKey)
	if err := it.seek(startKey); err != nil {
		return nil, err
	}
	return it, nil
}

// ScanDescending returns an iterator walking keys from startKey down to
// (but not including) lowKey. An empty startKey starts at the rightmost
// key in the tree; an empty lowKey runs to the leftmost key.
func (b *BTree) ScanDescending(startKey, lowKey []byte) (common.Iterator, error) {
	it := &Iterator{
		btree:      b,
		boundKey:   lowKey,
		descending: true,
	}
	if err := it.seekDescending(startKey); err != nil {
		return nil, err
	}
	return it, nil
}

// seek positions the iterator at the first key >= startKey
func (it *Iterator) seek(startKey []byte) error {
	if len(startKey) == 0 {
		// Start from beginning - find leftmost leaf
		pageID := it.btree.pager.RootPageID()
		page, err := it.btree.pager.GetPage(pageID)
		if err != nil {
			return err
		}

		// Follow leftmost path to leaf
		for !page.IsLeaf() {
			// Leftmost child: the page's right pointer holds the keys
			// below its first cell; fall back to cell 0 when it is unset.
			childID := page.RightPtr()
			if childID == 0 {
				if page.NumCells() == 0 {
					// Empty internal node
					it.currentPage = nil
					return nil
				}
				cell, err := page.CellAt(0)
				if err != nil {
					return err
				}
				childID = cell.Child
			}

			page, err = it.btree.pager.GetPage(childID)
			if err != nil {
				return err
			}
		}

		it.currentPage = page
		it.cellIndex = 0
		it.started = true
		it.firstCall = true // First Next() should not advance
		return nil
	}

	// Traverse tree to find leaf containing startKey
	pageID := it.btree.pager.RootPageID()

	for {
		page, err := it.btree.pager.GetPage(pageID)
		if err != nil {
			it.err = err
			return err
		}

		if page.IsLeaf() {
			// Found leaf, binary search for start position
			it.currentPage = page
			index := page.searchCell(startKey)
			if index < 0 {
				// Found exact match
				it.cellIndex = uint16(-index - 1)
			} else {
				// Not found, index is insertion point (first key >= startKey)
				it.cellIndex = uint16(index)
			}
			it.started = true
			it.firstCall = true // First Next() should not advance
			return nil
		}

		// Internal node - find child
		childPageID, err := GetChildPageID(page, startKey)
		if err != nil {
			it.err = err
			return err
		}
		pageID = childPageID
	}
}

// seekDescending positions the iterator at the last key <= startKey (or
// the tree's last key if startKey is empty).
func (it *Iterator) seekDescending(startKey []byte) error {
	if len(startKey) == 0 {
		// Start from the end - find rightmost leaf by following the last
		// cell's child through internal nodes (that child holds keys >=
		// every cell key in the page; the right pointer holds the keys
		// below the first cell and is used only when the page has no cells).
		pageID := it.btree.pager.RootPageID()
		page, err := it.btree.pager.GetPage(pageID)
		if err != nil {
			return err
		}

		for !page.IsLeaf() {
			childID := page.RightPtr()
			if page.NumCells() > 0 {
				cell, err := page.CellAt(page.NumCells() - 1)
				if err != nil {
					return err
				}
				childID = cell.Child
			} else if childID == 0 {
				it.currentPage = nil
				return nil
			}
			page, err = it.btree.pager.GetPage(childID)
			if err != nil {
				return err
			}
		}

		it.currentPage = page
		if page.NumCells() == 0 {
			it.currentPage = nil
			return nil
		}
		it.cellIndex = page.NumCells() - 1
		it.started = true
		it.firstCall = true
		return nil
	}

	// Traverse to the leaf that would hold startKey, then binary search
	// for the last cell <= startKey.
	pageID := it.btree.pager.RootPageID()

	for {
		page, err := it.btree.pager.GetPage(pageID)
		if err != nil {
			it.err = err
			return err
		}

		if page.IsLeaf() {
			it.currentPage = page
			index := page.searchCell(startKey)
			if index < 0 {
				// Exact match
				it.cellIndex = uint16(-index - 1)
			} else if index == 0 {
				// Every key in this leaf is > startKey; step to the
				// previous leaf via LeftPtr.
				leftPtr := page.LeftPtr()
				if leftPtr == 0 {
					it.currentPage = nil
					it.started = true
					it.firstCall = true
					return nil
				}
				prevPage, err := it.btree.pager.GetPage(leftPtr)
				if err != nil {
					it.err = err
					return err
				}
				if prevPage.NumCells() == 0 {
					it.currentPage = nil
					it.started = true
					it.firstCall = true
					return nil
				}
				it.currentPage = prevPage
				it.cellIndex = prevPage.NumCells() - 1
			} else {
				// Insertion point: the largest key <= startKey is index-1.
				it.cellIndex = uint16(index - 1)
			}
			it.started = true
			it.firstCall = true
			return nil
		}

		childPageID, err := GetChildPageID(page, startKey)
		if err != nil {
			it.err = err
			return err
		}
		pageID = childPageID
	}
}

// Next advances the iterator and returns true if there's a valid key-value pair
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}

	if !it.started {
		it.err = common.ErrClosed
		return false
	}

	if it.currentPage == nil {
		return false
	}

	if it.descending {
		return it.nextDescending()
	}
	return it.nextAscending()
}

func (it *Iterator) nextAscending() bool {
	// If this is NOT the first call, advance to next cell
	if !it.firstCall {
		it.cellIndex++
	} else {
		it.firstCall = false // Clear flag after first call
	}

	// Check if current position is valid
	if it.cellIndex >= it.currentPage.NumCells() {
		// Move to next leaf page
		rightPtr := it.currentPage.RightPtr()
		if rightPtr == 0 {
			it.currentPage = nil
			return false
		}

		nextPage, err := it.btree.pager.GetPage(rightPtr)
		if err != nil {
			it.err = err
			return false
		}

		it.currentPage = nextPage
		it.cellIndex = 0

		if it.currentPage.NumCells() == 0 {
			it.currentPage = nil
			return false
		}
	}

	if it.boundKey != nil {
		cell, err := it.currentPage.CellAt(it.cellIndex)
		if err != nil {
			it.err = err
			return false
		}
		if bytes.Compare(cell.Key, it.boundKey) >= 0 {
			it.currentPage = nil
			return false
		}
	}

	return true
}

func (it *Iterator) nextDescending() bool {
	if !it.firstCall {
		if it.cellIndex == 0 {
			// Move to previous leaf page
			leftPtr := it.currentPage.LeftPtr()
			if leftPtr == 0 {
				it.currentPage = nil
				return false
			}

			prevPage, err := it.btree.pager.GetPage(leftPtr)
			if err != nil {
				it.err = err
				return false
			}

			if prevPage.NumCells() == 0 {
				it.currentPage = nil
				return false
			}

			it.currentPage = prevPage
			it.cellIndex = prevPage.NumCells() - 1
		} else {
			it.cellIndex--
		}
	} else {
		it.firstCall = false
	}

	if it.boundKey != nil {
		cell, err := it.currentPage.CellAt(it.cellIndex)
		if err != nil {
			it.err = err
			return false
		}
		if bytes.Compare(cell.Key, it.boundKey) <= 0 {
			it.currentPage = nil
			return false
		}
	}

	return true
}

// Key returns the current key
func (it *Iterator) Key() []byte {
	if it.currentPage == nil {
		return nil
	}

	cell, err := it.currentPage.CellAt(it.cellIndex)
	if err != nil {
		it.err = err
		return nil
	}

	return cell.Key
}

// Value returns the current value
func (it *Iterator) Value() []byte {
	if it.currentPage == nil {
		return nil
	}

	cell, err := it.currentPage.CellAt(it.cellIndex)
	if err != nil {
		it.err = err
		return nil
	}

	return cell.Value
}

// Error returns any error encountered during iteration
func (it *Iterator) Error() error {
	return it.err
}

// Close closes the iterator
func (it *Iterator) Close() error {
	it.currentPage = nil
	return nil
}
