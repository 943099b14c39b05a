package cluster

import (
	"math"
	"sort"
)

// Density-based hierarchical clustering over Euclidean distance:
// core distances -> mutual reachability -> minimum spanning tree ->
// single-linkage hierarchy -> condensation by minimum cluster size ->
// cluster selection by excess-of-mass or leaf strategy.
//
// The O(n²) distance work is acceptable here: inputs are bounded by the
// store's scroll ceiling and extraction runs in the background, never on
// a request path.

// SelectionEOM selects clusters by excess of mass (the HDBSCAN default).
const SelectionEOM = "eom"

// SelectionLeaf selects the leaves of the condensed tree.
const SelectionLeaf = "leaf"

type hdbscanParams struct {
	minClusterSize int
	minSamples     int
	selection      string
}

// runHDBSCAN labels each point with a cluster id >= 0 or -1 for noise.
func runHDBSCAN(points [][]float32, p hdbscanParams) []int {
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}
	if p.minClusterSize < 2 {
		p.minClusterSize = 2
	}
	if p.minSamples < 1 {
		p.minSamples = 1
	}
	if n < p.minClusterSize {
		return labels
	}

	dist := pairwiseDistances(points)
	core := coreDistances(dist, p.minSamples)
	edges := mutualReachabilityMST(dist, core)
	merges := singleLinkage(edges, n)
	tree := condense(merges, n, p.minClusterSize)
	selected := tree.selectClusters(p.selection)
	tree.assignLabels(selected, labels)
	return labels
}

func pairwiseDistances(points [][]float32) [][]float64 {
	n := len(points)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			var sum float64
			for k := range points[i] {
				d := float64(points[i][k]) - float64(points[j][k])
				sum += d * d
			}
			d := math.Sqrt(sum)
			dist[i][j] = d
			dist[j][i] = d
		}
	}
	return dist
}

// coreDistances returns each point's distance to its minSamples-th
// nearest neighbor (self excluded).
func coreDistances(dist [][]float64, minSamples int) []float64 {
	n := len(dist)
	core := make([]float64, n)
	row := make([]float64, 0, n-1)
	for i := 0; i < n; i++ {
		row = row[:0]
		for j := 0; j < n; j++ {
			if j != i {
				row = append(row, dist[i][j])
			}
		}
		sort.Float64s(row)
		k := minSamples
		if k > len(row) {
			k = len(row)
		}
		core[i] = row[k-1]
	}
	return core
}

type mstEdge struct {
	a, b   int
	weight float64
}

// mutualReachabilityMST builds a minimum spanning tree over the mutual
// reachability distance max(core[a], core[b], dist[a][b]) using Prim's
// algorithm.
func mutualReachabilityMST(dist [][]float64, core []float64) []mstEdge {
	n := len(dist)
	inTree := make([]bool, n)
	best := make([]float64, n)
	bestFrom := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}
	edges := make([]mstEdge, 0, n-1)
	current := 0
	inTree[0] = true
	for len(edges) < n-1 {
		next := -1
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			mr := math.Max(dist[current][j], math.Max(core[current], core[j]))
			if mr < best[j] {
				best[j] = mr
				bestFrom[j] = current
			}
			if next == -1 || best[j] < best[next] {
				next = j
			}
		}
		edges = append(edges, mstEdge{a: bestFrom[next], b: next, weight: best[next]})
		inTree[next] = true
		current = next
	}
	return edges
}

// merge is one step of the single-linkage hierarchy: two components join
// at the given distance into node id.
type merge struct {
	id          int
	left, right int
	dist        float64
	size        int
}

// singleLinkage turns sorted MST edges into a hierarchy. Leaves are
// nodes [0, n); internal nodes take ids n, n+1, ... in merge order.
func singleLinkage(edges []mstEdge, n int) []merge {
	sort.Slice(edges, func(i, j int) bool { return edges[i].weight < edges[j].weight })
	parent := make([]int, 2*n-1)
	size := make([]int, 2*n-1)
	for i := range parent {
		parent[i] = i
		size[i] = 1
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	merges := make([]merge, 0, n-1)
	next := n
	for _, e := range edges {
		ra, rb := find(e.a), find(e.b)
		m := merge{id: next, left: ra, right: rb, dist: e.weight, size: size[ra] + size[rb]}
		parent[ra] = next
		parent[rb] = next
		size[next] = m.size
		merges = append(merges, m)
		next++
	}
	return merges
}

// condensedRow records a point or child cluster leaving its parent
// cluster at a given lambda (= 1/distance).
type condensedRow struct {
	parent int
	child  int // point index when isPoint, condensed cluster id otherwise
	lambda float64
	size   int
	point  bool
}

type condensedTree struct {
	rows     []condensedRow
	clusters []int       // condensed cluster ids, 0 is root
	parents  map[int]int // condensed cluster -> parent condensed cluster
	births   map[int]float64
}

func distToLambda(d float64) float64 {
	if d <= 0 {
		return math.MaxFloat64
	}
	return 1.0 / d
}

// condense walks the hierarchy top-down. A split where both sides reach
// minClusterSize creates two child clusters; otherwise the undersized
// side's points fall out of the current cluster at the split's lambda.
func condense(merges []merge, n, minClusterSize int) *condensedTree {
	tree := &condensedTree{
		parents: map[int]int{},
		births:  map[int]float64{0: 0},
	}
	tree.clusters = append(tree.clusters, 0)
	if len(merges) == 0 {
		return tree
	}

	nodes := make(map[int]merge, len(merges))
	for _, m := range merges {
		nodes[m.id] = m
	}
	nodeSize := func(id int) int {
		if id < n {
			return 1
		}
		return nodes[id].size
	}

	// spill emits every point under node as falling out of cluster at lambda.
	var spill func(node, cluster int, lambda float64)
	spill = func(node, cluster int, lambda float64) {
		if node < n {
			tree.rows = append(tree.rows, condensedRow{parent: cluster, child: node, lambda: lambda, size: 1, point: true})
			return
		}
		m := nodes[node]
		spill(m.left, cluster, lambda)
		spill(m.right, cluster, lambda)
	}

	nextCluster := 1
	type walkItem struct {
		node    int
		cluster int
	}
	root := merges[len(merges)-1].id
	stack := []walkItem{{node: root, cluster: 0}}
	for len(stack) > 0 {
		w := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if w.node < n {
			// A bare point at the top of its cluster falls out when the
			// cluster is born.
			tree.rows = append(tree.rows, condensedRow{parent: w.cluster, child: w.node, lambda: tree.births[w.cluster], size: 1, point: true})
			continue
		}
		m := nodes[w.node]
		lambda := distToLambda(m.dist)
		leftBig := nodeSize(m.left) >= minClusterSize
		rightBig := nodeSize(m.right) >= minClusterSize
		switch {
		case leftBig && rightBig:
			for _, child := range []int{m.left, m.right} {
				id := nextCluster
				nextCluster++
				tree.clusters = append(tree.clusters, id)
				tree.parents[id] = w.cluster
				tree.births[id] = lambda
				tree.rows = append(tree.rows, condensedRow{parent: w.cluster, child: id, lambda: lambda, size: nodeSize(child)})
				stack = append(stack, walkItem{node: child, cluster: id})
			}
		case leftBig:
			spill(m.right, w.cluster, lambda)
			stack = append(stack, walkItem{node: m.left, cluster: w.cluster})
		case rightBig:
			spill(m.left, w.cluster, lambda)
			stack = append(stack, walkItem{node: m.right, cluster: w.cluster})
		default:
			spill(m.left, w.cluster, lambda)
			spill(m.right, w.cluster, lambda)
		}
	}
	return tree
}

// stability of a cluster is the excess of mass: sum over its rows of
// (lambda - birth) * size.
func (t *condensedTree) stability(cluster int) float64 {
	birth := t.births[cluster]
	var s float64
	for _, r := range t.rows {
		if r.parent != cluster {
			continue
		}
		lambda := r.lambda
		if lambda == math.MaxFloat64 {
			lambda = birth
		}
		s += (lambda - birth) * float64(r.size)
	}
	return s
}

func (t *condensedTree) children(cluster int) []int {
	var kids []int
	for c, p := range t.parents {
		if p == cluster {
			kids = append(kids, c)
		}
	}
	sort.Ints(kids)
	return kids
}

// selectClusters picks the output clusters. EOM keeps a cluster when its
// own stability beats the sum of its selected descendants; leaf keeps the
// condensed tree's leaves. The root is never selected, so a dataset that
// never splits comes out as all noise.
func (t *condensedTree) selectClusters(strategy string) map[int]bool {
	selected := make(map[int]bool)
	if strategy == SelectionLeaf {
		for _, c := range t.clusters {
			if c != 0 && len(t.children(c)) == 0 {
				selected[c] = true
			}
		}
		return selected
	}
	// EOM, bottom-up.
	ordered := append([]int(nil), t.clusters...)
	sort.Sort(sort.Reverse(sort.IntSlice(ordered)))
	propagated := make(map[int]float64)
	for _, c := range ordered {
		if c == 0 {
			continue
		}
		own := t.stability(c)
		var childSum float64
		for _, k := range t.children(c) {
			childSum += propagated[k]
		}
		if len(t.children(c)) == 0 || own >= childSum {
			selected[c] = true
			t.deselectDescendants(c, selected)
			propagated[c] = own
		} else {
			propagated[c] = childSum
		}
	}
	return selected
}

func (t *condensedTree) deselectDescendants(cluster int, selected map[int]bool) {
	for _, k := range t.children(cluster) {
		delete(selected, k)
		t.deselectDescendants(k, selected)
	}
}

// assignLabels maps every point under a selected cluster's subtree to a
// dense label starting at 0; everything else stays -1.
func (t *condensedTree) assignLabels(selected map[int]bool, labels []int) {
	ids := make([]int, 0, len(selected))
	for c := range selected {
		ids = append(ids, c)
	}
	sort.Ints(ids)
	labelOf := make(map[int]int, len(ids))
	for i, c := range ids {
		labelOf[c] = i
	}
	// Resolve each point's nearest selected ancestor.
	for _, r := range t.rows {
		if !r.point {
			continue
		}
		c := r.parent
		for {
			if label, ok := labelOf[c]; ok {
				labels[r.child] = label
				break
			}
			p, ok := t.parents[c]
			if !ok {
				break
			}
			c = p
		}
	}
}
