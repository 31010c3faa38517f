package swarm

// layoutStride 决定竖井格点的稀疏程度，约每五格一个。
const layoutStride = 5

// IsShaft 判断网格坐标 (i, j) 是否属于竖井格点。
func IsShaft(i, j int) bool {
	return ((i%layoutStride)*2+j)%layoutStride == 0
}

// GenerateLayout 按 x 优先、z 次之的顺序生成竖井坐标，该顺序即认领顺序。
func GenerateLayout(width, length int) []Point {
	if width <= 0 || length <= 0 {
		return nil
	}
	points := make([]Point, 0, width*length/layoutStride+1)
	for i := 0; i < width; i++ {
		for j := 0; j < length; j++ {
			if IsShaft(i, j) {
				points = append(points, Point{X: i, Z: j})
			}
		}
	}
	return points
}
