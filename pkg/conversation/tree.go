package conversation

import (
	"sort"
)

// Tree indexes stored messages by id and by parent.
//
// It is the in-memory view of one or more conversations: the InMemoryStore keeps
// its messages in a Tree, and `hive history show` builds one from
// ConversationMessages to print the branches.
type Tree struct {
	Nodes    map[int64]*Message
	Children map[int64][]int64
	RootIDs  []int64
	LastID   int64
}

func NewTree(msgs ...*Message) *Tree {
	t := &Tree{
		Nodes:    make(map[int64]*Message),
		Children: make(map[int64][]int64),
	}
	t.InsertMessages(msgs...)
	return t
}

// InsertMessages adds messages to the tree. Messages whose parent is not in the
// tree are still indexed under their parent id, so a later insert of the parent
// does not lose them.
func (t *Tree) InsertMessages(msgs ...*Message) {
	for _, msg := range msgs {
		t.Nodes[msg.ID] = msg
		if msg.ID > t.LastID {
			t.LastID = msg.ID
		}
		if msg.ParentID == nil {
			t.RootIDs = insertSorted(t.RootIDs, msg.ID)
			continue
		}
		t.Children[*msg.ParentID] = insertSorted(t.Children[*msg.ParentID], msg.ID)
	}
}

// FindChildren returns the ids of the direct children of id, oldest first.
func (t *Tree) FindChildren(id int64) []int64 {
	return append([]int64(nil), t.Children[id]...)
}

// FindSiblings returns the ids of the messages sharing the parent of id.
func (t *Tree) FindSiblings(id int64) []int64 {
	node, ok := t.Nodes[id]
	if !ok {
		return nil
	}
	candidates := t.RootIDs
	if node.ParentID != nil {
		candidates = t.Children[*node.ParentID]
	}

	var siblings []int64
	for _, c := range candidates {
		if c != id && t.Nodes[c].ConversationID == node.ConversationID {
			siblings = append(siblings, c)
		}
	}
	return siblings
}

// GetMessageChain is the path resolver over the tree.
func (t *Tree) GetMessageChain(id int64) []int64 {
	chain, _ := resolveChain(id, func(current int64) (*int64, bool, error) {
		node, ok := t.Nodes[current]
		if !ok {
			return nil, false, nil
		}
		return node.ParentID, true, nil
	})
	return chain
}

// GetConversationThread returns the messages from the root to id.
func (t *Tree) GetConversationThread(id int64) []*Message {
	chain := t.GetMessageChain(id)
	ret := make([]*Message, 0, len(chain))
	for _, c := range chain {
		ret = append(ret, t.Nodes[c])
	}
	return ret
}

// GetLeftMostThread follows the oldest child from id down to a leaf.
func (t *Tree) GetLeftMostThread(id int64) []*Message {
	var thread []*Message
	for {
		node, ok := t.Nodes[id]
		if !ok {
			return thread
		}
		thread = append(thread, node)
		children := t.FindChildren(id)
		if len(children) == 0 {
			return thread
		}
		id = children[0]
	}
}

// Walk visits every message depth first, roots and children in id order.
func (t *Tree) Walk(fn func(m *Message, depth int)) {
	var visit func(id int64, depth int)
	visit = func(id int64, depth int) {
		node, ok := t.Nodes[id]
		if !ok {
			return
		}
		fn(node, depth)
		for _, c := range t.Children[id] {
			visit(c, depth+1)
		}
	}

	roots := append([]int64(nil), t.RootIDs...)
	// messages whose parent was never inserted are shown as roots
	for parent, children := range t.Children {
		if _, ok := t.Nodes[parent]; !ok {
			roots = append(roots, children...)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	for _, r := range roots {
		visit(r, 0)
	}
}

func insertSorted(ids []int64, id int64) []int64 {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}
